package evidence

import (
	"encoding/asn1"
	"errors"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var oidCRLNumber = asn1.ObjectIdentifier{2, 5, 29, 20}

// Errors returned by CRLNumber.
var (
	ErrMalformedCRL       = errors.New("malformed CRL")
	ErrNoCRLNumber        = errors.New("CRL has no CRL number extension")
	ErrMalformedCRLNumber = errors.New("malformed CRL number")
)

// CRLNumber extracts the CRL Number extension from a DER encoded CRL.
//
// The extension value is an INTEGER inside the extnValue OCTET STRING. Some
// issuers wrap the INTEGER in one more OCTET STRING; both forms are accepted.
// The CRL is walked directly because x509.ParseRevocationList rejects the
// wrapped form.
func CRLNumber(raw []byte) (*big.Int, error) {
	input := cryptobyte.String(raw)
	var certList, tbs cryptobyte.String
	if !input.ReadASN1(&certList, cbasn1.SEQUENCE) ||
		!certList.ReadASN1(&tbs, cbasn1.SEQUENCE) {
		return nil, ErrMalformedCRL
	}

	if !tbs.SkipOptionalASN1(cbasn1.INTEGER) ||
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // signature
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // issuer
		!skipTime(&tbs) {
		return nil, ErrMalformedCRL
	}
	if tbs.PeekASN1Tag(cbasn1.UTCTime) || tbs.PeekASN1Tag(cbasn1.GeneralizedTime) {
		if !skipTime(&tbs) {
			return nil, ErrMalformedCRL
		}
	}
	if !tbs.SkipOptionalASN1(cbasn1.SEQUENCE) { // revokedCertificates
		return nil, ErrMalformedCRL
	}

	var extWrapper cryptobyte.String
	var present bool
	if !tbs.ReadOptionalASN1(&extWrapper, &present, cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, ErrMalformedCRL
	}
	if !present {
		return nil, ErrNoCRLNumber
	}

	var exts cryptobyte.String
	if !extWrapper.ReadASN1(&exts, cbasn1.SEQUENCE) {
		return nil, ErrMalformedCRL
	}
	for !exts.Empty() {
		var ext cryptobyte.String
		var oid asn1.ObjectIdentifier
		var value cryptobyte.String
		if !exts.ReadASN1(&ext, cbasn1.SEQUENCE) ||
			!ext.ReadASN1ObjectIdentifier(&oid) ||
			!ext.SkipOptionalASN1(cbasn1.BOOLEAN) ||
			!ext.ReadASN1(&value, cbasn1.OCTET_STRING) {
			return nil, ErrMalformedCRL
		}
		if oid.Equal(oidCRLNumber) {
			return decodeCRLNumber(value)
		}
	}
	return nil, ErrNoCRLNumber
}

func decodeCRLNumber(value cryptobyte.String) (*big.Int, error) {
	if value.PeekASN1Tag(cbasn1.OCTET_STRING) {
		var inner cryptobyte.String
		if !value.ReadASN1(&inner, cbasn1.OCTET_STRING) || !value.Empty() {
			return nil, ErrMalformedCRLNumber
		}
		value = inner
	}
	n := new(big.Int)
	if !value.ReadASN1Integer(n) || !value.Empty() {
		return nil, ErrMalformedCRLNumber
	}
	return n, nil
}

func skipTime(s *cryptobyte.String) bool {
	if s.PeekASN1Tag(cbasn1.UTCTime) {
		return s.SkipASN1(cbasn1.UTCTime)
	}
	return s.SkipASN1(cbasn1.GeneralizedTime)
}
