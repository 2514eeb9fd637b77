// Package timestamps requests, verifies and issues RFC 3161 time-stamp
// tokens.
package timestamps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	_ "crypto/sha1" // registers SHA-1 for crypto.Hash.New
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// OIDs for timestamp structures
var (
	OIDSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDTSTInfo       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// Common errors
var (
	ErrTimestampFailed   = errors.New("timestamp request failed")
	ErrTimestampRejected = errors.New("timestamp request rejected")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrTimestampMismatch = errors.New("timestamp message imprint mismatch")
	ErrUnsupportedHash   = errors.New("unsupported hash algorithm")
)

var hashOIDs = []struct {
	hash crypto.Hash
	oid  asn1.ObjectIdentifier
}{
	{crypto.SHA1, OIDSHA1},
	{crypto.SHA256, OIDSHA256},
	{crypto.SHA384, OIDSHA384},
	{crypto.SHA512, OIDSHA512},
}

func hashOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	for _, e := range hashOIDs {
		if e.hash == h {
			return e.oid, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedHash, h)
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	for _, e := range hashOIDs {
		if e.oid.Equal(oid) {
			return e.hash, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrUnsupportedHash, oid)
}

// AlgorithmIdentifier represents an algorithm with parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// MessageImprint is the hash of the time-stamped data.
type MessageImprint struct {
	HashAlgorithm AlgorithmIdentifier
	HashedMessage []byte
}

// TimeStampReq represents a timestamp request (RFC 3161).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []Extension           `asn1:"optional,implicit,tag:0"`
}

// TimeStampResp represents a timestamp response.
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo carries the status of a response.
type PKIStatusInfo struct {
	Status       PKIStatus
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// TSTInfo is the signed content of a time-stamp token.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       Accuracy      `asn1:"optional"`
	Ordering       bool          `asn1:"optional,default:false"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,explicit,tag:0"`
	Extensions     []Extension   `asn1:"optional,implicit,tag:1"`
}

// Accuracy of the generation time.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// Extension is an X.509 style extension.
type Extension struct {
	ExtnID    asn1.ObjectIdentifier
	Critical  bool `asn1:"optional,default:false"`
	ExtnValue []byte
}

// PKIStatus is the status of a time-stamp response.
type PKIStatus int

const (
	StatusGranted PKIStatus = iota
	StatusGrantedWithMods
	StatusRejection
	StatusWaiting
	StatusRevocationWarning
	StatusRevocationNotification
)

func (s PKIStatus) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusGrantedWithMods:
		return "grantedWithMods"
	case StatusRejection:
		return "rejection"
	case StatusWaiting:
		return "waiting"
	case StatusRevocationWarning:
		return "revocationWarning"
	case StatusRevocationNotification:
		return "revocationNotification"
	default:
		return fmt.Sprintf("PKIStatus(%d)", int(s))
	}
}

// Granted reports whether a token accompanies the status.
func (s PKIStatus) Granted() bool {
	return s == StatusGranted || s == StatusGrantedWithMods
}

// failure info bit positions
var failureInfoNames = []struct {
	bit  int
	name string
}{
	{0, "badAlg"},
	{2, "badRequest"},
	{5, "badDataFormat"},
	{14, "timeNotAvailable"},
	{15, "unacceptedPolicy"},
	{16, "unacceptedExtension"},
	{17, "addInfoNotAvailable"},
	{25, "systemFailure"},
}

// RejectedError is returned when the TSA answers without a token.
type RejectedError struct {
	Status      PKIStatus
	StatusText  []string
	FailureInfo []string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("%v: status %s", ErrTimestampRejected, e.Status)
	if len(e.FailureInfo) > 0 {
		msg += " (" + strings.Join(e.FailureInfo, ", ") + ")"
	}
	if len(e.StatusText) > 0 {
		msg += ": " + strings.Join(e.StatusText, "; ")
	}
	return msg
}

func (e *RejectedError) Unwrap() error { return ErrTimestampRejected }

func newRejectedError(info PKIStatusInfo) *RejectedError {
	e := &RejectedError{Status: info.Status, StatusText: info.StatusString}
	for _, f := range failureInfoNames {
		if f.bit < info.FailInfo.BitLength && info.FailInfo.At(f.bit) == 1 {
			e.FailureInfo = append(e.FailureInfo, f.name)
		}
	}
	return e
}

// TimestampRequestOptions configures a timestamp request.
type TimestampRequestOptions struct {
	HashAlgorithm crypto.Hash
	Policy        asn1.ObjectIdentifier
	IncludeNonce  bool
	RequestCerts  bool
}

// DefaultTimestampRequestOptions returns SHA-256 with a nonce and the TSA
// certificate requested.
func DefaultTimestampRequestOptions() *TimestampRequestOptions {
	return &TimestampRequestOptions{
		HashAlgorithm: crypto.SHA256,
		IncludeNonce:  true,
		RequestCerts:  true,
	}
}

// Timestamper creates timestamps.
type Timestamper interface {
	// Timestamp creates a DER encoded time-stamp token over data.
	Timestamp(ctx context.Context, data []byte) ([]byte, error)
	// TimestampWithOptions creates a timestamp with custom options.
	TimestampWithOptions(ctx context.Context, data []byte, opts *TimestampRequestOptions) ([]byte, error)
}

// NewRequest builds the request for data. A nil opts uses the defaults.
func NewRequest(data []byte, opts *TimestampRequestOptions) (*TimeStampReq, error) {
	if opts == nil {
		opts = DefaultTimestampRequestOptions()
	}
	oid, err := hashOID(opts.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	h := opts.HashAlgorithm.New()
	h.Write(data)

	req := &TimeStampReq{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
			HashedMessage: h.Sum(nil),
		},
		ReqPolicy: opts.Policy,
		CertReq:   opts.RequestCerts,
	}
	if opts.IncludeNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, err
		}
		req.Nonce = nonce
	}
	return req, nil
}

// CreateTimestampRequest returns the DER encoded request for data.
func CreateTimestampRequest(data []byte, opts *TimestampRequestOptions) ([]byte, error) {
	req, err := NewRequest(data, opts)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(*req)
}

// ParseResponse checks a DER encoded response against req and returns the
// token. The token must be granted, cover the requested imprint and echo the
// request nonce.
func ParseResponse(respData []byte, req *TimeStampReq) ([]byte, error) {
	var resp TimeStampResp
	if _, err := asn1.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if !resp.Status.Status.Granted() {
		return nil, newRejectedError(resp.Status)
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: response carries no token", ErrInvalidTimestamp)
	}

	info, err := ExtractTSTInfo(resp.TimeStampToken.FullBytes)
	if err != nil {
		return nil, err
	}
	got, want := info.MessageImprint, req.MessageImprint
	if !got.HashAlgorithm.Algorithm.Equal(want.HashAlgorithm.Algorithm) ||
		!bytes.Equal(got.HashedMessage, want.HashedMessage) {
		return nil, ErrTimestampMismatch
	}
	if req.Nonce != nil && (info.Nonce == nil || info.Nonce.Cmp(req.Nonce) != 0) {
		return nil, fmt.Errorf("%w: nonce not echoed", ErrInvalidTimestamp)
	}
	return resp.TimeStampToken.FullBytes, nil
}
