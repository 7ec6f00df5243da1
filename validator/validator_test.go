package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// fakeCertRepo and fakeCrlRepo are minimal in-memory stand-ins: the
// validator depends only on core's narrow repository interfaces, so a
// map-backed fake suffices without a real database.
type fakeCertRepo struct {
	cscas []core.Certificate
}

func (f *fakeCertRepo) Upsert(context.Context, core.Certificate) (core.Insertion, error) {
	return core.Insertion{}, nil
}
func (f *fakeCertRepo) FindByFingerprint(context.Context, core.CertificateType, string) (*core.Certificate, bool, error) {
	return nil, false, nil
}
func (f *fakeCertRepo) FindCscaByIssuerDN(context.Context, string) (*core.Certificate, bool, error) {
	return nil, false, nil
}
func (f *fakeCertRepo) FindAllCscasBySubjectDN(context.Context, string) ([]core.Certificate, error) {
	return nil, nil
}
func (f *fakeCertRepo) AllCscas(context.Context) ([]core.Certificate, error) { return f.cscas, nil }
func (f *fakeCertRepo) FindMissingInDirectory(context.Context, core.CertificateType) ([]core.Certificate, error) {
	return nil, nil
}
func (f *fakeCertRepo) MarkStoredInDirectory(context.Context, string, string) error { return nil }
func (f *fakeCertRepo) CountByType(context.Context, string) (map[core.CertificateType]int, error) {
	return nil, nil
}
func (f *fakeCertRepo) CountByCountry(context.Context, core.CertificateType) ([]core.CountryCount, error) {
	return nil, nil
}
func (f *fakeCertRepo) SummaryByUpload(context.Context, string) (map[core.CertificateType]int, error) {
	return nil, nil
}
func (f *fakeCertRepo) DeleteCascade(context.Context, string) error { return nil }

type fakeCrlRepo struct{}

func (f *fakeCrlRepo) Upsert(context.Context, core.Crl) (core.Insertion, error) {
	return core.Insertion{}, nil
}
func (f *fakeCrlRepo) FindByIssuerDN(context.Context, string) (*core.Crl, bool, error) {
	return nil, false, nil
}
func (f *fakeCrlRepo) FindByFingerprint(context.Context, string) (*core.Crl, bool, error) {
	return nil, false, nil
}
func (f *fakeCrlRepo) FindMissingInDirectory(context.Context) ([]core.Crl, error) { return nil, nil }
func (f *fakeCrlRepo) MarkStoredInDirectory(context.Context, string, string) error { return nil }
func (f *fakeCrlRepo) CountByCountry(context.Context) ([]core.CountryCount, error) { return nil, nil }

func mustSelfSignedCSCA(t *testing.T, cn string, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn, Country: []string{"KR"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func mustLeaf(t *testing.T, cn string, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey, notAfter time.Time) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: cn, Country: []string{"KR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, issuerKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func asCertificate(t *testing.T, cert *x509.Certificate, certType core.CertificateType) core.Certificate {
	t.Helper()
	return core.Certificate{
		Type:                certType,
		Fingerprint:         decode.Fingerprint(cert.Raw),
		SubjectDN:           cert.Subject.String(),
		IssuerDN:            cert.Issuer.String(),
		NormalizedSubjectDN: decode.NormalizeDN(cert.Subject.String()),
		NormalizedIssuerDN:  decode.NormalizeDN(cert.Issuer.String()),
		NotBefore:           cert.NotBefore,
		NotAfter:            cert.NotAfter,
		DER:                 cert.Raw,
	}
}

func TestValidateSelfSignedCscaTerminatesWithoutCircular(t *testing.T) {
	csca, key := mustSelfSignedCSCA(t, "CSCA-KOREA", time.Now().AddDate(10, 0, 0))
	dsc := mustLeaf(t, "Document Signer 1", csca, key, time.Now().AddDate(1, 0, 0))

	repo := &fakeCertRepo{cscas: []core.Certificate{asCertificate(t, csca, core.CSCA)}}
	fc := clock.NewFake()
	fc.Set(time.Now())
	v := New(repo, &fakeCrlRepo{}, fc, nil, metrics.NewNoopScope())

	result, err := v.Validate(context.Background(), asCertificate(t, dsc, core.DSC))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.TrustChainValid {
		t.Fatalf("expected valid chain, got message %v", result.TrustChainMessage)
	}
	if result.ValidationStatus != core.ValidationValid {
		t.Fatalf("expected VALID, got %s", result.ValidationStatus)
	}
	want := []string{"Document Signer 1", "CSCA-KOREA"}
	if len(result.TrustChainPath) != len(want) {
		t.Fatalf("path = %v, want %v", result.TrustChainPath, want)
	}
	for i := range want {
		if result.TrustChainPath[i] != want[i] {
			t.Fatalf("path = %v, want %v", result.TrustChainPath, want)
		}
	}
}

func TestValidateLinkCertificateChain(t *testing.T) {
	rootOld, rootOldKey := mustSelfSignedCSCA(t, "CSCA Latvia (001)", time.Now().AddDate(5, 0, 0))
	rootNewSubject, rootNewKey := mustSelfSignedCSCA(t, "CSCA Latvia (003)", time.Now().AddDate(10, 0, 0))
	// Link cert: subject = new root's name, issuer = old root, signed by old root's key.
	// The new root's self-signed form is deliberately not registered as a
	// CSCA candidate here, so the only path from its subject DN back to a
	// root runs through this link certificate (tests link-cert tolerance
	// in isolation from the "multiple roots share a subject DN" case,
	// which no test in this file covers).
	linkTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(3),
		Subject:               rootNewSubject.Subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(5, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	linkDER, err := x509.CreateCertificate(rand.Reader, linkTmpl, rootOld, &rootNewKey.PublicKey, rootOldKey)
	if err != nil {
		t.Fatal(err)
	}
	linkCert, err := x509.ParseCertificate(linkDER)
	if err != nil {
		t.Fatal(err)
	}

	dsc := mustLeaf(t, "DSC", rootNewSubject, rootNewKey, time.Now().AddDate(1, 0, 0))

	repo := &fakeCertRepo{cscas: []core.Certificate{
		asCertificate(t, rootOld, core.CSCA),
		asCertificate(t, linkCert, core.CSCA),
	}}
	v := New(repo, &fakeCrlRepo{}, clock.NewFake(), nil, metrics.NewNoopScope())

	result, err := v.Validate(context.Background(), asCertificate(t, dsc, core.DSC))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.TrustChainValid {
		t.Fatalf("expected valid chain, got message %v", result.TrustChainMessage)
	}
	if len(result.TrustChainPath) != 3 {
		t.Fatalf("expected chain of length 3, got %v", result.TrustChainPath)
	}
}
