package masterlist

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func selfSignedCSCA(t *testing.T, commonName string, keyID []byte) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName, Country: []string{"US"}},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(20, 0, 0),
		SubjectKeyId: keyID,
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestLoadPEMBundleAndLookups(t *testing.T) {
	keyIDA := []byte{0x01, 0x02, 0x03, 0x04}
	keyIDB := []byte{0x05, 0x06, 0x07, 0x08}
	var bundle bytes.Buffer
	bundle.Write(selfSignedCSCA(t, "CSCA Testland A", keyIDA))
	bundle.Write(selfSignedCSCA(t, "CSCA Testland B", keyIDB))

	ml, err := Load(bundle.Bytes())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ml.Certificates()) != 2 {
		t.Fatalf("Certificates() = %d entries, want 2", len(ml.Certificates()))
	}

	cert, ok := ml.ByKeyIdentifier(keyIDA)
	if !ok {
		t.Fatal("expected a match for keyIDA")
	}
	if cert.Subject.CommonName != "CSCA Testland A" {
		t.Errorf("matched wrong certificate: %s", cert.Subject.CommonName)
	}

	if _, ok := ml.ByKeyIdentifier([]byte{0xFF, 0xFF}); ok {
		t.Fatal("expected no match for an unknown key identifier")
	}

	byIssuer := ml.CertificatesByIssuer(cert.RawIssuer)
	if len(byIssuer) != 1 {
		t.Fatalf("CertificatesByIssuer = %d matches, want 1", len(byIssuer))
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	if _, err := Load([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected an error decoding non-PEM, non-CMS garbage")
	}
}
