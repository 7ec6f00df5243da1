package decode

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"
)

func mustSignedCMS(t *testing.T) (der []byte, signerSerial *big.Int) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serial := big.NewInt(555)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "MLSC-KOREA", Country: []string{"KR"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatal(err)
	}

	sd, err := pkcs7.NewSignedData([]byte("master list content"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatal(err)
	}
	signed, err := sd.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return signed, serial
}

func TestParseCMSSeparatesSignerFromEmbedded(t *testing.T) {
	der, serial := mustSignedCMS(t)
	info, err := ParseCMS(der)
	if err != nil {
		t.Fatalf("ParseCMS: %v", err)
	}
	if len(info.SignerCerts) != 1 {
		t.Fatalf("got %d signer certs, want 1", len(info.SignerCerts))
	}
	if info.SignerCerts[0].SerialNumber.Cmp(serial) != 0 {
		t.Fatal("signer cert serial mismatch")
	}
	if len(info.EmbeddedCerts) != 0 {
		t.Fatalf("got %d embedded certs, want 0", len(info.EmbeddedCerts))
	}
}

func TestParseCMSRejectsGarbage(t *testing.T) {
	if _, err := ParseCMS([]byte("not cms data")); err == nil {
		t.Fatal("expected error for malformed CMS")
	}
}
