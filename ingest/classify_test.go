package ingest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
)

func mustCert(t *testing.T, subject, issuer pkix.Name, selfSign bool, isCA bool) *decode.CertInfo {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: isCA,
	}
	parent := tmpl
	parentKey := key
	if !selfSign {
		parentTmpl := &x509.Certificate{
			SerialNumber:          big.NewInt(2),
			Subject:               issuer,
			NotBefore:             time.Now().Add(-time.Hour),
			NotAfter:              time.Now().Add(time.Hour),
			IsCA:                  true,
			BasicConstraintsValid: true,
		}
		parentKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		parentDER, err := x509.CreateCertificate(rand.Reader, parentTmpl, parentTmpl, &parentKey.PublicKey, parentKey)
		if err != nil {
			t.Fatal(err)
		}
		parent, err = x509.ParseCertificate(parentDER)
		if err != nil {
			t.Fatal(err)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatal(err)
	}
	info, err := decode.ParseX509(der)
	if err != nil {
		t.Fatal(err)
	}
	return info
}

func TestClassifyCertRulePrecedence(t *testing.T) {
	krSubject := pkix.Name{CommonName: "CSCA-KOREA", Country: []string{"KR"}}

	selfSigned := mustCert(t, krSubject, krSubject, true, true)
	if got := classifyCert(selfSigned, false, ""); got != core.CSCA {
		t.Fatalf("self-signed CA: got %s, want CSCA", got)
	}

	dscSubject := pkix.Name{CommonName: "Document Signer", Country: []string{"KR"}}
	leaf := mustCert(t, dscSubject, krSubject, false, false)
	if got := classifyCert(leaf, false, ""); got != core.DSC {
		t.Fatalf("leaf: got %s, want DSC", got)
	}

	if got := classifyCert(leaf, false, "o=dsc,c=kr,dc=nc-data,dc=download"); got != core.DSCNC {
		t.Fatalf("nc-data leaf: got %s, want DSC_NC", got)
	}

	// MLSC role takes precedence over everything else, including a leaf
	// entry DN that would otherwise say DSC_NC.
	if got := classifyCert(leaf, true, "o=dsc,c=kr,dc=nc-data,dc=download"); got != core.MLSC {
		t.Fatalf("mlsc signer: got %s, want MLSC", got)
	}
}

func TestResolveCountryCodeFallsBackToIssuer(t *testing.T) {
	noCountrySubject := pkix.Name{CommonName: "No Country Here"}
	krIssuer := pkix.Name{CommonName: "CSCA-KOREA", Country: []string{"KR"}}

	info := mustCert(t, noCountrySubject, krIssuer, false, false)
	if got := resolveCountryCode(info); got != "KR" {
		t.Fatalf("got %s, want KR (fallback to issuer)", got)
	}
}
