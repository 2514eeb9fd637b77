package timestamps

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ESS signed attributes binding a token to its TSA certificate (RFC 2634,
// RFC 5816).
var (
	OIDSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

type essIssuerSerial struct {
	Issuer       asn1.RawValue // GeneralNames
	SerialNumber *big.Int
}

type essCertID struct {
	CertHash     []byte
	IssuerSerial essIssuerSerial `asn1:"optional"`
}

// essCertIDv2 leaves HashAlgorithm zero for SHA-256, the DER default.
type essCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  essIssuerSerial `asn1:"optional"`
}

type signingCertificate struct {
	Certs    []essCertID
	Policies asn1.RawValue `asn1:"optional"`
}

type signingCertificateV2 struct {
	Certs    []essCertIDv2
	Policies asn1.RawValue `asn1:"optional"`
}

// certBinding is the first ESSCertID of a token: the hash of the TSA
// certificate.
type certBinding struct {
	hash   crypto.Hash
	digest []byte
}

func newIssuerSerial(cert *x509.Certificate) (essIssuerSerial, error) {
	directoryName, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        4,
		IsCompound: true,
		Bytes:      cert.RawIssuer,
	})
	if err != nil {
		return essIssuerSerial{}, err
	}
	return essIssuerSerial{
		Issuer: asn1.RawValue{
			Class:      asn1.ClassUniversal,
			Tag:        asn1.TagSequence,
			IsCompound: true,
			Bytes:      directoryName,
		},
		SerialNumber: cert.SerialNumber,
	}, nil
}

// signingCertificateV2Attribute builds the SigningCertificateV2 attribute
// for cert using SHA-256.
func signingCertificateV2Attribute(cert *x509.Certificate) (attribute, error) {
	issuerSerial, err := newIssuerSerial(cert)
	if err != nil {
		return attribute{}, err
	}
	h := crypto.SHA256.New()
	h.Write(cert.Raw)
	value, err := asn1.Marshal(signingCertificateV2{
		Certs: []essCertIDv2{{CertHash: h.Sum(nil), IssuerSerial: issuerSerial}},
	})
	if err != nil {
		return attribute{}, err
	}
	return attribute{
		Type:   OIDSigningCertificateV2,
		Values: []asn1.RawValue{{FullBytes: value}},
	}, nil
}

type signerInfoAttrs struct {
	Version         int
	SID             asn1.RawValue
	DigestAlgorithm AlgorithmIdentifier
	SignedAttrs     []attribute `asn1:"optional,implicit,tag:0,set"`
}

// readCertBinding extracts the ESS certificate binding from the first
// SignerInfo. It returns nil when the token carries none.
func readCertBinding(signerInfos asn1.RawValue) (*certBinding, error) {
	var si signerInfoAttrs
	if _, err := asn1.Unmarshal(signerInfos.Bytes, &si); err != nil {
		return nil, fmt.Errorf("%w: signer info: %v", ErrInvalidTimestamp, err)
	}
	for _, attr := range si.SignedAttrs {
		if len(attr.Values) == 0 {
			continue
		}
		raw := attr.Values[0].FullBytes
		switch {
		case attr.Type.Equal(OIDSigningCertificateV2):
			var sc signingCertificateV2
			if _, err := asn1.Unmarshal(raw, &sc); err != nil || len(sc.Certs) == 0 {
				return nil, fmt.Errorf("%w: malformed signing certificate v2 attribute", ErrInvalidTimestamp)
			}
			hash := crypto.SHA256
			if len(sc.Certs[0].HashAlgorithm.Algorithm) > 0 {
				h, err := hashFromOID(sc.Certs[0].HashAlgorithm.Algorithm)
				if err != nil {
					return nil, err
				}
				hash = h
			}
			return &certBinding{hash: hash, digest: sc.Certs[0].CertHash}, nil
		case attr.Type.Equal(OIDSigningCertificate):
			var sc signingCertificate
			if _, err := asn1.Unmarshal(raw, &sc); err != nil || len(sc.Certs) == 0 {
				return nil, fmt.Errorf("%w: malformed signing certificate attribute", ErrInvalidTimestamp)
			}
			return &certBinding{hash: crypto.SHA1, digest: sc.Certs[0].CertHash}, nil
		}
	}
	return nil, nil
}

func (b *certBinding) matches(cert *x509.Certificate) bool {
	h := b.hash.New()
	h.Write(cert.Raw)
	return bytes.Equal(h.Sum(nil), b.digest)
}
