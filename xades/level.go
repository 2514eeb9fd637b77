package xades

import (
	"fmt"
	"strings"
)

// Level is an ordered stage of a signature's evidentiary completeness.
type Level int

const (
	LevelB Level = iota
	LevelT
	LevelC
	LevelX
	LevelXL
	LevelA
)

// String returns the profile name of the level.
func (l Level) String() string {
	switch l {
	case LevelB:
		return "XAdES-B"
	case LevelT:
		return "XAdES-T"
	case LevelC:
		return "XAdES-C"
	case LevelX:
		return "XAdES-X"
	case LevelXL:
		return "XAdES-X-L"
	case LevelA:
		return "XAdES-A"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLevel accepts "XL", "xades-x-l", "XAdES-A" and similar spellings.
func ParseLevel(s string) (Level, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "XADES-")
	norm = strings.TrimPrefix(norm, "XADES_")
	norm = strings.ReplaceAll(norm, "-", "")
	norm = strings.ReplaceAll(norm, "_", "")

	switch norm {
	case "B", "BES", "BES/EPES", "EPES":
		return LevelB, nil
	case "T":
		return LevelT, nil
	case "C":
		return LevelC, nil
	case "X":
		return LevelX, nil
	case "XL":
		return LevelXL, nil
	case "A":
		return LevelA, nil
	}
	return 0, fmt.Errorf("unknown XAdES level %q", s)
}

// Level returns the level a timestamp of kind k belongs to.
func (k TimestampKind) Level() Level {
	switch {
	case k.IsArchive():
		return LevelA
	case k.IsX():
		return LevelX
	default:
		return LevelT
	}
}
