package timestamps

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	oidSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

// LocalTimeStamper acts as its own TSA. It signs every request with the
// configured key and is used with a locally provisioned TSA certificate or in
// tests.
type LocalTimeStamper struct {
	// TSACert is the TSA signing certificate.
	TSACert *x509.Certificate

	// TSAKey is the TSA private key (RSA or ECDSA).
	TSAKey crypto.Signer

	// CertsToEmbed are additional certificates to include after the TSA
	// certificate.
	CertsToEmbed []*x509.Certificate

	// Clock supplies the generation time.
	Clock clockwork.Clock

	// IncludeNonce controls whether to echo the nonce from requests.
	IncludeNonce bool

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier
}

// NewLocalTimeStamper creates a local timestamper.
func NewLocalTimeStamper(cert *x509.Certificate, key crypto.Signer) *LocalTimeStamper {
	return &LocalTimeStamper{
		TSACert:      cert,
		TSAKey:       key,
		Clock:        clockwork.NewRealClock(),
		IncludeNonce: true,
		// Default TSA policy OID
		Policy: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithCertsToEmbed adds certificates to embed in responses.
func (d *LocalTimeStamper) WithCertsToEmbed(certs []*x509.Certificate) *LocalTimeStamper {
	d.CertsToEmbed = certs
	return d
}

// WithClock sets the clock used for genTime.
func (d *LocalTimeStamper) WithClock(clock clockwork.Clock) *LocalTimeStamper {
	d.Clock = clock
	return d
}

// WithPolicy sets the TSA policy OID.
func (d *LocalTimeStamper) WithPolicy(policy asn1.ObjectIdentifier) *LocalTimeStamper {
	d.Policy = policy
	return d
}

// Timestamp implements Timestamper.
func (d *LocalTimeStamper) Timestamp(ctx context.Context, data []byte) ([]byte, error) {
	return d.TimestampWithOptions(ctx, data, DefaultTimestampRequestOptions())
}

// TimestampWithOptions implements Timestamper.
func (d *LocalTimeStamper) TimestampWithOptions(ctx context.Context, data []byte, opts *TimestampRequestOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := NewRequest(data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respBytes, err := d.HandleRequest(req)
	if err != nil {
		return nil, err
	}

	return ParseResponse(respBytes, req)
}

// HandleRequest processes a timestamp request and returns a DER encoded
// TimeStampResp.
func (d *LocalTimeStamper) HandleRequest(req *TimeStampReq) ([]byte, error) {
	if d.TSACert == nil || d.TSAKey == nil {
		return nil, errors.New("local TSA requires a certificate and a key")
	}

	if _, err := hashFromOID(req.MessageImprint.HashAlgorithm.Algorithm); err != nil {
		return rejection(0, "unsupported hash algorithm")
	}
	if len(req.ReqPolicy) > 0 && !req.ReqPolicy.Equal(d.Policy) {
		return rejection(15, "policy not supported")
	}

	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, err
	}

	tstInfo := TSTInfo{
		Version:        1,
		Policy:         d.Policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serialNumber,
		GenTime:        clock.Now().UTC().Truncate(time.Second),
	}

	if d.IncludeNonce && req.Nonce != nil {
		tstInfo.Nonce = req.Nonce
	}

	tstInfoBytes, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TSTInfo: %w", err)
	}

	token, err := d.createSignedCMS(tstInfoBytes)
	if err != nil {
		return nil, err
	}

	resp := TimeStampResp{
		Status: PKIStatusInfo{Status: StatusGranted},
		TimeStampToken: asn1.RawValue{
			FullBytes: token,
		},
	}

	return asn1.Marshal(resp)
}

// createSignedCMS creates a signed CMS structure for the TSTInfo.
func (d *LocalTimeStamper) createSignedCMS(tstInfoBytes []byte) ([]byte, error) {
	messageDigest := sha256.Sum256(tstInfoBytes)

	certAttr, err := signingCertificateV2Attribute(d.TSACert)
	if err != nil {
		return nil, err
	}
	signedAttrs := []attribute{
		certAttr,
		{
			Type: OIDContentType,
			Values: []asn1.RawValue{{
				FullBytes: mustMarshal(OIDTSTInfo),
			}},
		},
		{
			Type: OIDMessageDigest,
			Values: []asn1.RawValue{{
				Class: asn1.ClassUniversal,
				Tag:   asn1.TagOctetString,
				Bytes: messageDigest[:],
			}},
		},
	}

	// The signature covers the DER SET OF encoding of the attributes.
	signedAttrsBytes, err := asn1.MarshalWithParams(signedAttrs, "set")
	if err != nil {
		return nil, err
	}

	signature, sigAlg, err := d.sign(signedAttrsBytes)
	if err != nil {
		return nil, err
	}

	si := signerInfo{
		Version: 1,
		SID: issuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: d.TSACert.RawIssuer},
			SerialNumber: d.TSACert.SerialNumber,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  OIDSHA256,
			Parameters: asn1.NullRawValue,
		},
		SignedAttrs:        signedAttrs,
		SignatureAlgorithm: sigAlg,
		Signature:          signature,
	}

	// TSA certificate first
	certBytes := []asn1.RawValue{{FullBytes: d.TSACert.Raw}}
	for _, cert := range d.CertsToEmbed {
		certBytes = append(certBytes, asn1.RawValue{FullBytes: cert.Raw})
	}

	eContent, err := asn1.Marshal(tstInfoBytes)
	if err != nil {
		return nil, err
	}

	sd := signedData{
		Version: 3,
		DigestAlgorithms: []AlgorithmIdentifier{{
			Algorithm:  OIDSHA256,
			Parameters: asn1.NullRawValue,
		}},
		EncapContentInfo: encapsulatedContentInfo{
			ContentType: OIDTSTInfo,
			Content: asn1.RawValue{
				Class:      asn1.ClassContextSpecific,
				Tag:        0,
				IsCompound: true,
				Bytes:      eContent,
			},
		},
		Certificates: certBytes,
		SignerInfos:  []signerInfo{si},
	}

	signedDataBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, err
	}

	return asn1.Marshal(struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue
	}{
		ContentType: OIDSignedData,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      signedDataBytes,
		},
	})
}

func (d *LocalTimeStamper) sign(data []byte) ([]byte, AlgorithmIdentifier, error) {
	digest := sha256.Sum256(data)

	switch d.TSAKey.Public().(type) {
	case *rsa.PublicKey:
		sig, err := d.TSAKey.Sign(rand.Reader, digest[:], crypto.SHA256)
		return sig, AlgorithmIdentifier{Algorithm: oidSHA256WithRSA, Parameters: asn1.NullRawValue}, err
	case *ecdsa.PublicKey:
		sig, err := d.TSAKey.Sign(rand.Reader, digest[:], crypto.SHA256)
		return sig, AlgorithmIdentifier{Algorithm: oidECDSAWithSHA256}, err
	default:
		return nil, AlgorithmIdentifier{}, fmt.Errorf("unsupported TSA key type %T", d.TSAKey.Public())
	}
}

// Helper types for CMS structure

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type signerInfo struct {
	Version            int
	SID                issuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []attribute `asn1:"implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
}

type encapsulatedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo encapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"implicit,optional,tag:0,set"`
	SignerInfos      []signerInfo    `asn1:"set"`
}

// rejection encodes a rejected response with one failure info bit set.
func rejection(bit int, text string) ([]byte, error) {
	info := make([]byte, bit/8+1)
	info[bit/8] = 0x80 >> (bit % 8)
	return asn1.Marshal(TimeStampResp{Status: PKIStatusInfo{
		Status:       StatusRejection,
		StatusString: []string{text},
		FailInfo:     asn1.BitString{Bytes: info, BitLength: bit + 1},
	}})
}

func generateSerialNumber() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func mustMarshal(v interface{}) []byte {
	data, err := asn1.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
