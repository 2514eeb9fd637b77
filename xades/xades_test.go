package xades

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/internal/pkitest"
)

func signedDocument(t *testing.T, h *pkitest.Hierarchy, id string) *Document {
	t.Helper()
	raw := pkitest.SignXAdES(t, h.Signer, pkitest.XAdESOptions{
		SignatureID: id,
		Chain:       []*x509.Certificate{h.Intermediate.Cert, h.Root.Cert},
	})
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse signed document: %v", err)
	}
	return doc
}

func firstSignature(t *testing.T, doc *Document) *Signature {
	t.Helper()
	sigs, err := doc.Signatures()
	if err != nil {
		t.Fatalf("failed to list signatures: %v", err)
	}
	return sigs[0]
}

func timestampToken(t *testing.T, a *pkitest.Authority, data []byte) []byte {
	t.Helper()
	token, err := a.Timestamper().Timestamp(context.Background(), data)
	if err != nil {
		t.Fatalf("failed to timestamp: %v", err)
	}
	return token
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not xml <")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSignaturesNoSignature(t *testing.T) {
	doc, err := Parse([]byte(`<Invoice xmlns="urn:example:invoice"><Number>1</Number></Invoice>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := doc.Signatures(); !errors.Is(err, ErrNoSignature) {
		t.Fatalf("expected ErrNoSignature, got %v", err)
	}
}

func TestSignatureModel(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	doc := signedDocument(t, h, "sig-1")
	sig := firstSignature(t, doc)

	if sig.ID() != "sig-1" || sig.Key() != "sig-1" {
		t.Errorf("unexpected identity %q/%q", sig.ID(), sig.Key())
	}
	if sig.QualifyingProperties() == nil {
		t.Fatal("QualifyingProperties not found")
	}
	if sig.UnsignedSignatureProperties() != nil {
		t.Error("fresh signature must not have unsigned properties")
	}
	if sig.Level() != LevelB {
		t.Errorf("level = %s, want %s", sig.Level(), LevelB)
	}

	certs, err := sig.Certificates()
	if err != nil {
		t.Fatalf("failed to read certificates: %v", err)
	}
	if len(certs) != 3 {
		t.Fatalf("expected 3 KeyInfo certificates, got %d", len(certs))
	}
	signer, err := sig.SigningCertificate()
	if err != nil {
		t.Fatalf("failed to get signing certificate: %v", err)
	}
	if !signer.Equal(h.Signer.Cert) {
		t.Errorf("signing certificate = %s", signer.Subject)
	}
}

func TestSigningCertificateFromSignedProperty(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	chain := []*x509.Certificate{h.Intermediate.Cert, h.Root.Cert}

	tests := []struct {
		name     string
		property bool
		want     *x509.Certificate
	}{
		{"SigningCertificateV2", true, h.Signer.Cert},
		{"first KeyInfo certificate", false, h.Intermediate.Cert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := pkitest.SignXAdES(t, h.Signer, pkitest.XAdESOptions{
				SignatureID:          "sig-1",
				Chain:                chain,
				ChainFirst:           true,
				SigningCertificateV2: tt.property,
			})
			doc, err := Parse(raw)
			if err != nil {
				t.Fatalf("failed to parse signed document: %v", err)
			}
			sig := firstSignature(t, doc)

			certs, err := sig.Certificates()
			if err != nil {
				t.Fatalf("failed to read certificates: %v", err)
			}
			if !certs[0].Equal(h.Intermediate.Cert) {
				t.Fatalf("first KeyInfo certificate = %s", certs[0].Subject)
			}
			signer, err := sig.SigningCertificate()
			if err != nil {
				t.Fatalf("failed to get signing certificate: %v", err)
			}
			if !signer.Equal(tt.want) {
				t.Errorf("signing certificate = %s, want %s", signer.Subject, tt.want.Subject)
			}
		})
	}
}

func TestSignatureKeyWithoutID(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	doc := signedDocument(t, h, "")
	sig := firstSignature(t, doc)
	if sig.ID() != "" {
		t.Fatalf("expected no Id, got %q", sig.ID())
	}
	if sig.Key() != "signature-0" {
		t.Errorf("Key() = %q, want signature-0", sig.Key())
	}
}

func TestCloneDoesNotShareTree(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	doc := signedDocument(t, h, "sig-1")
	before, _ := doc.Bytes()

	clone := doc.Clone()
	sig := firstSignature(t, clone)
	if _, err := sig.EnsureUnsignedSignatureProperties(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := doc.Bytes()
	if !bytes.Equal(before, after) {
		t.Error("mutating the clone changed the original")
	}
}

func TestLevelDetection(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	doc := signedDocument(t, h, "sig-1")
	sig := firstSignature(t, doc)

	data, err := sig.SignatureTimestampData()
	if err != nil {
		t.Fatalf("failed to build timestamp data: %v", err)
	}
	if _, err := sig.AppendTimestamp(SignatureTimeStamp, timestampToken(t, h.TSA1, data)); err != nil {
		t.Fatalf("failed to append timestamp: %v", err)
	}
	if got := sig.Level(); got != LevelT {
		t.Fatalf("level = %s, want %s", got, LevelT)
	}

	certs := []*evidence.CertificateToken{evidence.NewCertificateToken(h.Intermediate.Cert)}
	if _, err := sig.AppendCertificateRefs(certs, evidence.SHA256); err != nil {
		t.Fatalf("failed to append certificate refs: %v", err)
	}
	if got := sig.Level(); got != LevelT {
		t.Fatalf("level with only certificate refs = %s, want %s", got, LevelT)
	}
	ocspToken, err := evidence.NewOCSPToken(h.Root.OCSPResponse(t, h.Intermediate.Cert, time.Now()), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("failed to create OCSP token: %v", err)
	}
	if _, err := sig.AppendRevocationRefs([]*evidence.RevocationToken{ocspToken}, evidence.SHA256, nil); err != nil {
		t.Fatalf("failed to append revocation refs: %v", err)
	}
	if got := sig.Level(); got != LevelC {
		t.Fatalf("level = %s, want %s", got, LevelC)
	}

	xData, err := sig.SigAndRefsTimestampData()
	if err != nil {
		t.Fatalf("failed to build X timestamp data: %v", err)
	}
	if _, err := sig.AppendTimestamp(SigAndRefsTimeStamp, timestampToken(t, h.TSA1, xData)); err != nil {
		t.Fatalf("failed to append X timestamp: %v", err)
	}
	if got := sig.Level(); got != LevelX {
		t.Fatalf("level = %s, want %s", got, LevelX)
	}

	vd := evidence.NewValidationData()
	vd.AddCertificate(evidence.NewCertificateToken(h.Intermediate.Cert))
	vd.AddRevocation(ocspToken)
	if err := sig.AppendValues(vd); err != nil {
		t.Fatalf("failed to append values: %v", err)
	}
	if got := sig.Level(); got != LevelXL {
		t.Fatalf("level = %s, want %s", got, LevelXL)
	}

	aData, err := sig.ArchiveTimestampData()
	if err != nil {
		t.Fatalf("failed to build archive data: %v", err)
	}
	if _, err := sig.AppendTimestamp(ArchiveTimeStamp141, timestampToken(t, h.TSA2, aData)); err != nil {
		t.Fatalf("failed to append archive timestamp: %v", err)
	}
	if got := sig.Level(); got != LevelA {
		t.Fatalf("level = %s, want %s", got, LevelA)
	}

	// Levels survive serialization.
	raw, err := doc.Bytes()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}
	reparsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("failed to reparse: %v", err)
	}
	if got := firstSignature(t, reparsed).Level(); got != LevelA {
		t.Errorf("reparsed level = %s, want %s", got, LevelA)
	}
	tss, err := firstSignature(t, reparsed).Timestamps()
	if err != nil {
		t.Fatalf("failed to read timestamps: %v", err)
	}
	if len(tss) != 3 {
		t.Fatalf("expected 3 timestamps, got %d", len(tss))
	}
	wantKinds := []TimestampKind{SignatureTimeStamp, SigAndRefsTimeStamp, ArchiveTimeStamp141}
	for i, ts := range tss {
		if ts.Kind != wantKinds[i] {
			t.Errorf("timestamp %d kind = %s, want %s", i, ts.Kind, wantKinds[i])
		}
		if !strings.HasPrefix(ts.ID(), TimestampIDPrefix) {
			t.Errorf("timestamp %d Id = %q", i, ts.ID())
		}
	}
	if !tss[2].Token.TSACertificate().Equal(h.TSA2.Cert) {
		t.Error("archive timestamp must be signed by TSA2")
	}
}

func TestRevocationRefsContent(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	crl, err := evidence.NewCRLToken(h.Root.CRL(t, 7, time.Now()), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("failed to create CRL token: %v", err)
	}
	other, err := evidence.NewCRLToken(h.Intermediate.CRL(t, 9, time.Now()), h.Signer.Cert)
	if err != nil {
		t.Fatalf("failed to create CRL token: %v", err)
	}
	ocspToken, err := evidence.NewOCSPToken(h.Root.OCSPResponse(t, h.Intermediate.Cert, time.Now()), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("failed to create OCSP token: %v", err)
	}

	numbers := map[string]*big.Int{crl.ID(): big.NewInt(7)}
	block, err := sig.AppendRevocationRefs([]*evidence.RevocationToken{crl, other, ocspToken}, evidence.SHA256, numbers)
	if err != nil {
		t.Fatalf("failed to append revocation refs: %v", err)
	}

	crlRefs := descendantsNamed(block, xades("CRLRef"))
	if len(crlRefs) != 2 {
		t.Fatalf("expected 2 CRLRef, got %d", len(crlRefs))
	}
	if n := descendantsNamed(crlRefs[0], xades("Number")); len(n) != 1 || n[0].Text() != "7" {
		t.Error("first CRL must carry Number 7")
	}
	if n := descendantsNamed(crlRefs[1], xades("Number")); len(n) != 0 {
		t.Error("CRL without a decoded number must omit Number")
	}
	if len(descendantsNamed(block, xades("OCSPRef"))) != 1 {
		t.Error("expected one OCSPRef")
	}
	if len(descendantsNamed(block, xades("ByName"))) != 1 {
		t.Error("OCSP responder should be identified by name")
	}

	digests := sig.RevocationRefDigests()
	if len(digests) != 3 {
		t.Fatalf("expected 3 digests, got %d", len(digests))
	}
	if !bytes.Equal(digests[0].Value, crl.Digest(evidence.SHA256)) {
		t.Error("CRL digest mismatch")
	}
	if digests[0].Algorithm != evidence.DigestURISHA256 {
		t.Errorf("algorithm = %s", digests[0].Algorithm)
	}
}

func TestNamespacesOfCreatedElements(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	ts, err := sig.AppendTimestamp(SignatureTimeStamp, timestampToken(t, h.TSA1, []byte("x")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vd := evidence.NewValidationData()
	vd.AddCertificate(evidence.NewCertificateToken(h.TSARoot.Cert))
	block, err := sig.InsertTimestampValidationData(ts, "ignored", vd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.Space != "xades" {
		t.Errorf("timestamp prefix = %q, want the existing xades prefix", ts.Space)
	}
	if !is(block, NameTimeStampValidationData) {
		t.Errorf("validation data has namespace %q", block.NamespaceURI())
	}
	if !is(childNamed(block, NameCertificateValues), NameCertificateValues) {
		t.Error("CertificateValues inside validation data must be in the 1.3.2 namespace")
	}
	if method := childNamed(ts, dsig("CanonicalizationMethod")); method == nil ||
		method.SelectAttrValue("Algorithm", "") != CanonicalizationAlgorithm {
		t.Error("timestamp must record the canonicalization method")
	}
}

func TestInsertTimestampValidationDataPlacement(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	first, err := sig.AppendTimestamp(SignatureTimeStamp, timestampToken(t, h.TSA1, []byte("a")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sig.AppendTimestamp(SignatureTimeStamp, timestampToken(t, h.TSA2, []byte("b"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vd := evidence.NewValidationData()
	vd.AddCertificate(evidence.NewCertificateToken(h.TSARoot.Cert))
	block, err := sig.InsertTimestampValidationData(first, "tok", vd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kids := sig.UnsignedChildren()
	if len(kids) != 3 {
		t.Fatalf("expected 3 unsigned properties, got %d", len(kids))
	}
	if kids[0] != first || kids[1] != block {
		t.Error("validation data must directly follow its timestamp")
	}
	if got := block.SelectAttrValue("URI", ""); got != "#"+first.SelectAttrValue("Id", "") {
		t.Errorf("URI = %q", got)
	}
	if !strings.HasPrefix(block.SelectAttrValue("Id", ""), ValidationDataIDPrefix) {
		t.Errorf("Id = %q", block.SelectAttrValue("Id", ""))
	}

	// Without an element the block is appended and points at the token id.
	orphan, err := sig.InsertTimestampValidationData(nil, "abc", vd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kids = sig.UnsignedChildren()
	if kids[len(kids)-1] != orphan {
		t.Error("orphan block must be appended last")
	}
	if got := orphan.SelectAttrValue("URI", ""); got != "#"+TimestampIDPrefix+"abc" {
		t.Errorf("orphan URI = %q", got)
	}
}

func TestRemoveUnsignedAndTimestamps(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	if sig.RemoveUnsigned(NameCertificateValues) != 0 {
		t.Error("nothing to remove yet")
	}

	x, err := sig.AppendTimestamp(SigAndRefsTimeStamp, timestampToken(t, h.TSA1, []byte("x")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vd := evidence.NewValidationData()
	vd.AddCertificate(evidence.NewCertificateToken(h.TSARoot.Cert))
	if _, err := sig.InsertTimestampValidationData(x, "x", vd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sig.AppendValues(vd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sig.AppendValues(vd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := sig.RemoveUnsigned(NameCertificateValues); got != 2 {
		t.Errorf("removed %d CertificateValues, want 2", got)
	}
	if got := sig.RemoveTimestamps(TimestampKind.IsX); got != 1 {
		t.Errorf("removed %d timestamps, want 1", got)
	}
	if n := len(sig.UnsignedChildren()); n != 0 {
		t.Errorf("expected empty unsigned properties, got %d children", n)
	}
}

func TestTimestampLocator(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	tokenA := timestampToken(t, h.TSA1, []byte("a"))
	tokenB := timestampToken(t, h.TSA2, []byte("b"))
	elA, err := sig.AppendTimestamp(SignatureTimeStamp, tokenA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A copy of token A nested below another property and token B only nested.
	usp := sig.UnsignedSignatureProperties()
	holder := usp.CreateElement("xades:Nested")
	nestedA := holder.CreateElement("xades:SignatureTimeStamp")
	nestedA.CreateElement("xades:EncapsulatedTimeStamp").SetText(EncodeBase64(tokenA))
	nestedB := holder.CreateElement("xades:ArchiveTimeStamp")
	nestedB.CreateElement("xades:EncapsulatedTimeStamp").SetText(EncodeBase64(tokenB))

	loc := NewTimestampLocator(sig)
	if el, ok := loc.Locate(tokenA); !ok || el != elA {
		t.Error("direct child must win over the nested copy")
	}
	if el, ok := loc.Locate(tokenB); !ok || el != nestedB {
		t.Error("nested timestamp must be found in the subtree")
	}
	if _, ok := loc.Locate([]byte("unknown")); ok {
		t.Error("unknown token must not be found")
	}
	if loc.Len() != 2 {
		t.Errorf("Len() = %d, want 2", loc.Len())
	}
}

func TestInspectFindsProblems(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	tsToken := timestampToken(t, h.TSA1, []byte("a"))
	if _, err := sig.AppendTimestamp(SignatureTimeStamp, tsToken); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	refOCSP, err := evidence.NewOCSPToken(h.Root.OCSPResponse(t, h.Intermediate.Cert, time.Now().Add(-time.Hour)), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	freshOCSP, err := evidence.NewOCSPToken(h.Root.OCSPResponse(t, h.Intermediate.Cert, time.Now()), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	certs := []*evidence.CertificateToken{evidence.NewCertificateToken(h.Signer.Cert)}
	if _, err := sig.AppendCertificateRefs(certs, evidence.SHA256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sig.AppendRevocationRefs([]*evidence.RevocationToken{refOCSP}, evidence.SHA256, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vd := evidence.NewValidationData()
	vd.AddCertificate(evidence.NewCertificateToken(h.TSA1.Cert))
	vd.AddRevocation(freshOCSP)
	if err := sig.AppendValues(vd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := Inspect(sig)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if report.Consistent() {
		t.Fatal("report must not be consistent")
	}
	if !report.SelfReference {
		t.Error("self reference not detected")
	}
	if len(report.UnmatchedRevocationRefs) != 1 {
		t.Errorf("expected 1 unmatched ref, got %d", len(report.UnmatchedRevocationRefs))
	}
	if len(report.UnreferencedRevocationValues) != 1 {
		t.Errorf("expected the fresh OCSP value to be unreferenced, got %v", report.UnreferencedRevocationValues)
	}
	if len(report.TSAInGeneralValues) != 1 {
		t.Errorf("expected TSA duplication, got %v", report.TSAInGeneralValues)
	}
	if len(report.Problems()) != 4 {
		t.Errorf("expected 4 problems, got %v", report.Problems())
	}
}

func TestInspectUnreferencedValuesWithoutRevocationRefs(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))

	ocsp, err := evidence.NewOCSPToken(h.Root.OCSPResponse(t, h.Intermediate.Cert, time.Now()), h.Intermediate.Cert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	certs := []*evidence.CertificateToken{evidence.NewCertificateToken(h.Intermediate.Cert)}
	if _, err := sig.AppendCertificateRefs(certs, evidence.SHA256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// References were written while no revocation proof was available.
	if _, err := sig.AppendRevocationRefs(nil, evidence.SHA256, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vd := evidence.NewValidationData()
	vd.AddRevocation(ocsp)
	if err := sig.AppendValues(vd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := Inspect(sig)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if report.Consistent() {
		t.Fatal("report must not be consistent")
	}
	if len(report.UnmatchedRevocationRefs) != 0 {
		t.Errorf("unexpected unmatched refs %v", report.UnmatchedRevocationRefs)
	}
	if len(report.UnreferencedRevocationValues) != 1 {
		t.Errorf("unreferenced values = %v, want 1", report.UnreferencedRevocationValues)
	}
}

func TestInspectCleanSignature(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	sig := firstSignature(t, signedDocument(t, h, "sig-1"))
	report, err := Inspect(sig)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !report.Consistent() || report.Level != LevelB {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestCanonicalizeKeepsTree(t *testing.T) {
	h := pkitest.NewHierarchy(t)
	doc := signedDocument(t, h, "sig-1")
	sig := firstSignature(t, doc)
	before, _ := doc.Bytes()

	out, err := Canonicalize(sig.SignatureValue())
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	if !bytes.Contains(out, []byte(`xmlns:ds="`+NamespaceDSig+`"`)) {
		t.Errorf("canonical form must declare the ds namespace: %s", out)
	}
	after, _ := doc.Bytes()
	if !bytes.Equal(before, after) {
		t.Error("canonicalization modified the document")
	}
	if _, err := Canonicalize(nil); err == nil {
		t.Error("expected error for nil element")
	}
}

func TestEncodeBase64(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		lines int
	}{
		{"empty", 0, 1},
		{"short", 10, 1},
		{"exactly one line", 57, 1},
		{"two lines", 58, 2},
		{"many lines", 1000, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Repeat([]byte{0xA5}, tt.size)
			enc := EncodeBase64(data)
			lines := strings.Split(enc, "\n")
			if len(lines) != tt.lines {
				t.Fatalf("got %d lines, want %d", len(lines), tt.lines)
			}
			for _, l := range lines[:len(lines)-1] {
				if len(l) != 76 {
					t.Errorf("line length %d, want 76", len(l))
				}
			}
			if strings.HasSuffix(enc, "\n") {
				t.Error("unexpected trailing newline")
			}
			dec, err := DecodeBase64(enc)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !bytes.Equal(dec, data) {
				t.Error("decoded data differs")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"B", LevelB, false},
		{"t", LevelT, false},
		{"XAdES-C", LevelC, false},
		{"X", LevelX, false},
		{"XL", LevelXL, false},
		{"xades-x-l", LevelXL, false},
		{"XAdES_A", LevelA, false},
		{"LTA", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if LevelXL.String() != "XAdES-X-L" {
		t.Errorf("LevelXL.String() = %q", LevelXL.String())
	}
}
