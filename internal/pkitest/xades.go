package pkitest

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	nsXAdES132   = "http://uri.etsi.org/01903/v1.3.2#"
	digestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
)

// XAdESOptions controls SignXAdES.
type XAdESOptions struct {
	// SignatureID is set as the ds:Signature Id. Empty leaves it unset.
	SignatureID string
	// Chain is embedded in KeyInfo after the signer certificate.
	Chain []*x509.Certificate
	// ChainFirst puts Chain before the signer certificate in KeyInfo.
	ChainFirst bool
	// SigningCertificateV2 adds the signed property naming the signer by
	// its SHA-256 digest.
	SigningCertificateV2 bool
	// SigningTime goes into SignedSignatureProperties.
	SigningTime time.Time
}

// SignXAdES produces an enveloped XAdES-B signature over a small document.
// The XMLDSig signature is valid; the signed properties are not covered by a
// reference.
func SignXAdES(t testing.TB, signer *Authority, opts XAdESOptions) []byte {
	t.Helper()

	doc := etree.NewDocument()
	root := doc.CreateElement("Invoice")
	root.CreateAttr("xmlns", "urn:example:invoice")
	root.CreateElement("Number").SetText("2024-0042")
	root.CreateElement("Amount").SetText("1250.00")

	var certs [][]byte
	for _, c := range opts.Chain {
		certs = append(certs, c.Raw)
	}
	if opts.ChainFirst {
		certs = append(certs, signer.Cert.Raw)
	} else {
		certs = append([][]byte{signer.Cert.Raw}, certs...)
	}
	ctx, err := dsig.NewSigningContext(signer.Key, certs)
	if err != nil {
		t.Fatalf("failed to create signing context: %v", err)
	}
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signed, err := ctx.SignEnveloped(root)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	out := etree.NewDocument()
	out.SetRoot(signed)
	raw, err := out.WriteToBytes()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	// Reparse so parent links are consistent before adding properties.
	doc = etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		t.Fatalf("failed to reparse: %v", err)
	}
	sig := doc.Root().SelectElement("Signature")
	if sig == nil {
		t.Fatal("signature element not found")
	}
	target := ""
	if opts.SignatureID != "" {
		sig.CreateAttr("Id", opts.SignatureID)
		target = "#" + opts.SignatureID
	}

	signingTime := opts.SigningTime
	if signingTime.IsZero() {
		signingTime = time.Now()
	}

	object := sig.CreateElement(sig.Space + ":Object")
	qp := object.CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("xmlns:xades", nsXAdES132)
	if target != "" {
		qp.CreateAttr("Target", target)
	}
	sp := qp.CreateElement("xades:SignedProperties")
	sp.CreateAttr("Id", "xades-"+opts.SignatureID)
	ssp := sp.CreateElement("xades:SignedSignatureProperties")
	ssp.CreateElement("xades:SigningTime").SetText(signingTime.UTC().Format(time.RFC3339))
	if opts.SigningCertificateV2 {
		digest := sha256.Sum256(signer.Cert.Raw)
		cert := ssp.CreateElement("xades:SigningCertificateV2").CreateElement("xades:Cert")
		certDigest := cert.CreateElement("xades:CertDigest")
		certDigest.CreateElement(sig.Space+":DigestMethod").CreateAttr("Algorithm", digestSHA256)
		certDigest.CreateElement(sig.Space + ":DigestValue").SetText(base64.StdEncoding.EncodeToString(digest[:]))
	}

	raw, err = doc.WriteToBytes()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return raw
}

// CombineSignatures moves the ds:Signature of every extra document into the
// root of base. All documents must be produced by SignXAdES, so each
// signature still verifies once the others are removed.
func CombineSignatures(t testing.TB, base []byte, extra ...[]byte) []byte {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(base); err != nil {
		t.Fatalf("failed to parse base document: %v", err)
	}
	for _, raw := range extra {
		other := etree.NewDocument()
		if err := other.ReadFromBytes(raw); err != nil {
			t.Fatalf("failed to parse document: %v", err)
		}
		sig := other.Root().SelectElement("Signature")
		if sig == nil {
			t.Fatal("signature element not found")
		}
		doc.Root().AddChild(sig.Copy())
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	return out
}
