// Command goxades extends XAdES signatures to higher levels.
//
// Usage:
//
//	goxades <command> [options] <args>
//
// Commands:
//
//	extend   Extend the signatures of an XML document to a higher XAdES level
//	inspect  Report the level and evidence consistency of each signature
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Extend to XAdES-X-L using the TSA and fetcher settings of goxades.yaml
//	goxades extend -config goxades.yaml signed.xml extended.xml
//
//	# Check an extended document
//	goxades inspect extended.xml
package main

import (
	"os"

	"github.com/georgepadayatti/goxades/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/goxades
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
