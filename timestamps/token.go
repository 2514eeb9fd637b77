package timestamps

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type encapsulatedContent struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedDataEnvelope struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContentInfo encapsulatedContent
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             asn1.RawValue   `asn1:"optional,implicit,tag:1"`
	SignerInfos      asn1.RawValue
}

func parseSignedData(tokenData []byte) (*signedDataEnvelope, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(tokenData, &ci); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %v", ErrInvalidTimestamp, ci.ContentType)
	}
	var sd signedDataEnvelope
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(OIDTSTInfo) {
		return nil, fmt.Errorf("%w: encapsulated content %v is not TSTInfo", ErrInvalidTimestamp, sd.EncapContentInfo.EContentType)
	}
	return &sd, nil
}

func (sd *signedDataEnvelope) tstInfo() (*TSTInfo, error) {
	// EContent is the [0] wrapper around the eContent OCTET STRING.
	content := sd.EncapContentInfo.EContent.Bytes
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(content, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if inner.Class == asn1.ClassUniversal && inner.Tag == asn1.TagOctetString {
		content = inner.Bytes
	}
	var info TSTInfo
	if _, err := asn1.Unmarshal(content, &info); err != nil {
		return nil, fmt.Errorf("%w: TSTInfo: %v", ErrInvalidTimestamp, err)
	}
	return &info, nil
}

// ExtractTSTInfo returns the TSTInfo of a DER encoded token.
func ExtractTSTInfo(tokenData []byte) (*TSTInfo, error) {
	sd, err := parseSignedData(tokenData)
	if err != nil {
		return nil, err
	}
	return sd.tstInfo()
}

// TimestampToken is a parsed time-stamp token.
type TimestampToken struct {
	Raw     []byte
	TSTInfo *TSTInfo
	// Certificates holds the embedded certificates with the signer first.
	Certificates []*x509.Certificate
	// SignerCert is nil when the TSA did not embed its certificate.
	SignerCert *x509.Certificate

	binding *certBinding
}

// ParseTimestampToken parses a DER encoded time-stamp token. Embedded
// certificates that fail to parse are skipped.
func ParseTimestampToken(data []byte) (*TimestampToken, error) {
	sd, err := parseSignedData(data)
	if err != nil {
		return nil, err
	}
	info, err := sd.tstInfo()
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
	for _, raw := range sd.Certificates {
		if cert, err := x509.ParseCertificate(raw.FullBytes); err == nil {
			certs = append(certs, cert)
		}
	}
	binding, err := readCertBinding(sd.SignerInfos)
	if err != nil {
		return nil, err
	}
	signer := findSigner(sd.SignerInfos, certs)
	return &TimestampToken{
		Raw:          data,
		TSTInfo:      info,
		Certificates: signerFirst(certs, signer),
		SignerCert:   signer,
		binding:      binding,
	}, nil
}

// BindsCertificate checks cert against the ESS signing certificate attribute.
// Tokens without the attribute bind any certificate.
func (t *TimestampToken) BindsCertificate(cert *x509.Certificate) error {
	if t.binding == nil {
		return nil
	}
	if cert == nil || !t.binding.matches(cert) {
		return fmt.Errorf("%w: TSA certificate does not match the signing certificate attribute", ErrInvalidTimestamp)
	}
	return nil
}

// GenTime is the time the TSA asserts.
func (t *TimestampToken) GenTime() time.Time { return t.TSTInfo.GenTime }

// VerifyImprint checks that the token covers data.
func (t *TimestampToken) VerifyImprint(data []byte) error {
	h, err := hashFromOID(t.TSTInfo.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	d := h.New()
	d.Write(data)
	if !bytes.Equal(t.TSTInfo.MessageImprint.HashedMessage, d.Sum(nil)) {
		return ErrTimestampMismatch
	}
	return nil
}

type signerIdentifier struct {
	Version int
	SID     asn1.RawValue
}

type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// findSigner resolves the sid of the first SignerInfo against certs.
func findSigner(signerInfos asn1.RawValue, certs []*x509.Certificate) *x509.Certificate {
	var head signerIdentifier
	if _, err := asn1.Unmarshal(signerInfos.Bytes, &head); err != nil {
		return nil
	}

	switch {
	case head.SID.Class == asn1.ClassUniversal && head.SID.Tag == asn1.TagSequence:
		var ias issuerAndSerialNumber
		if _, err := asn1.Unmarshal(head.SID.FullBytes, &ias); err != nil {
			return nil
		}
		for _, c := range certs {
			if bytes.Equal(c.RawIssuer, ias.Issuer.FullBytes) && c.SerialNumber.Cmp(ias.SerialNumber) == 0 {
				return c
			}
		}
	case head.SID.Class == asn1.ClassContextSpecific && head.SID.Tag == 0:
		for _, c := range certs {
			if bytes.Equal(c.SubjectKeyId, head.SID.Bytes) {
				return c
			}
		}
	}
	return nil
}

func signerFirst(certs []*x509.Certificate, signer *x509.Certificate) []*x509.Certificate {
	if signer == nil {
		return certs
	}
	out := make([]*x509.Certificate, 0, len(certs))
	out = append(out, signer)
	for _, c := range certs {
		if c != signer {
			out = append(out, c)
		}
	}
	return out
}
