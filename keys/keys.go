// Package keys loads the certificates and signing credentials used by the
// extension tools: trust anchors in PEM or DER form and the key of a local
// time-stamping unit from PKCS#12 or PEM files.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrKeyMismatch      = errors.New("private key does not match certificate")
)

// Credential is a signing key with its certificate and the certificates to
// embed after it.
type Credential struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Chain       []*x509.Certificate
}

// LoadCertificates reads every certificate of a PEM or DER file.
func LoadCertificates(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParseCertificates(data)
}

// LoadCertificateFiles reads the certificates of several files in order.
func LoadCertificateFiles(filenames []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertificates(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		all = append(all, certs...)
	}
	return all, nil
}

// ParseCertificates accepts PEM data holding CERTIFICATE blocks, or one or
// more concatenated DER certificates.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else if len(data) > 0 {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadPrivateKey reads a PEM or DER private key. passphrase is only used for
// legacy encrypted PEM blocks.
func LoadPrivateKey(filename string, passphrase []byte) (crypto.Signer, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParsePrivateKey(data, passphrase)
}

// ParsePrivateKey parses a PKCS#1, SEC 1 or PKCS#8 key in PEM or DER form.
func ParsePrivateKey(data []byte, passphrase []byte) (crypto.Signer, error) {
	if !isPEM(data) {
		return parseDERKey(data)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("%w: no passphrase provided", ErrDecryptionFailed)
		}
		var err error
		if der, err = x509.DecryptPEMBlock(block, passphrase); err != nil { //nolint:staticcheck
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
	}
}

func parseDERKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toSigner(key any) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadPKCS12 reads a PKCS#12 file holding a key, its certificate and
// optionally CA certificates.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParsePKCS12(data, password)
}

// ParsePKCS12 decodes PKCS#12 data.
func ParsePKCS12(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 data: %w", err)
	}
	signer, err := toSigner(key)
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: cert, Signer: signer, Chain: caCerts}, nil
}

// LoadPEMCredential reads a certificate file, the matching key file and
// optional chain files.
func LoadPEMCredential(certFile, keyFile string, passphrase []byte, chainFiles ...string) (*Credential, error) {
	certs, err := LoadCertificates(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKey(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	cred := &Credential{Certificate: certs[0], Signer: key, Chain: certs[1:]}
	if err := cred.check(); err != nil {
		return nil, err
	}
	if len(chainFiles) > 0 {
		chain, err := LoadCertificateFiles(chainFiles)
		if err != nil {
			return nil, err
		}
		cred.Chain = append(cred.Chain, chain...)
	}
	return cred, nil
}

type publicKeyEqualer interface {
	Equal(crypto.PublicKey) bool
}

func (c *Credential) check() error {
	pub, ok := c.Signer.Public().(publicKeyEqualer)
	if !ok || !pub.Equal(c.Certificate.PublicKey) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, c.Certificate.Subject)
	}
	return nil
}

// Algorithm names the key algorithm of signer with its size or curve, e.g.
// "RSA-2048" or "ECDSA-P-256".
func Algorithm(signer crypto.Signer) string {
	switch k := signer.Public().(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA-%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return "ECDSA-" + k.Curve.Params().Name
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return "unknown"
	}
}
