package ingest

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
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// fakeCerts and fakeCrls are narrow, package-local stand-ins for
// core.CertificateRepository and core.CrlRepository, following the same
// fake-per-package convention used in reconcile/reconcile_test.go and
// validator/validator_test.go.
type fakeCerts struct {
	byKey map[string]*core.Certificate
	marked []string
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{byKey: map[string]*core.Certificate{}}
}

func (f *fakeCerts) Upsert(ctx context.Context, c core.Certificate) (core.Insertion, error) {
	key := string(c.Type) + "|" + c.Fingerprint
	if existing, ok := f.byKey[key]; ok {
		return core.Insertion{Inserted: false, ID: existing.ID}, nil
	}
	if c.ID == "" {
		c.ID = "cert-" + c.Fingerprint
	}
	f.byKey[key] = &c
	return core.Insertion{Inserted: true, ID: c.ID}, nil
}
func (f *fakeCerts) FindByFingerprint(ctx context.Context, t core.CertificateType, fp string) (*core.Certificate, bool, error) {
	c, ok := f.byKey[string(t)+"|"+fp]
	return c, ok, nil
}
func (f *fakeCerts) FindCscaByIssuerDN(ctx context.Context, dn string) (*core.Certificate, bool, error) {
	return nil, false, nil
}
func (f *fakeCerts) FindAllCscasBySubjectDN(ctx context.Context, dn string) ([]core.Certificate, error) {
	return nil, nil
}
func (f *fakeCerts) AllCscas(ctx context.Context) ([]core.Certificate, error) { return nil, nil }
func (f *fakeCerts) FindMissingInDirectory(ctx context.Context, t core.CertificateType) ([]core.Certificate, error) {
	return nil, nil
}
func (f *fakeCerts) MarkStoredInDirectory(ctx context.Context, id, dn string) error {
	f.marked = append(f.marked, id)
	return nil
}
func (f *fakeCerts) CountByType(ctx context.Context, country string) (map[core.CertificateType]int, error) {
	return nil, nil
}
func (f *fakeCerts) CountByCountry(ctx context.Context, t core.CertificateType) ([]core.CountryCount, error) {
	return nil, nil
}
func (f *fakeCerts) SummaryByUpload(ctx context.Context, uploadID string) (map[core.CertificateType]int, error) {
	return nil, nil
}
func (f *fakeCerts) DeleteCascade(ctx context.Context, uploadID string) error { return nil }

type fakeCrls struct{}

func (f *fakeCrls) Upsert(ctx context.Context, c core.Crl) (core.Insertion, error) {
	return core.Insertion{Inserted: true, ID: "crl-" + c.Fingerprint}, nil
}
func (f *fakeCrls) FindByIssuerDN(ctx context.Context, dn string) (*core.Crl, bool, error) {
	return nil, false, nil
}
func (f *fakeCrls) FindByFingerprint(ctx context.Context, fp string) (*core.Crl, bool, error) {
	return nil, false, nil
}
func (f *fakeCrls) FindMissingInDirectory(ctx context.Context) ([]core.Crl, error) { return nil, nil }
func (f *fakeCrls) MarkStoredInDirectory(ctx context.Context, id, dn string) error  { return nil }
func (f *fakeCrls) CountByCountry(ctx context.Context) ([]core.CountryCount, error) { return nil, nil }

type fakeDir struct {
	writes int
}

func (f *fakeDir) EnsureContainer(ctx context.Context, t core.CertificateType, country string) error {
	return nil
}
func (f *fakeDir) WriteCertificate(ctx context.Context, t core.CertificateType, country, fp, subject, serial string, der []byte) (string, error) {
	f.writes++
	return "cn=" + fp + ",o=" + string(t) + ",c=" + country, nil
}
func (f *fakeDir) WriteCrl(ctx context.Context, country, fp, issuer string, der []byte) (string, error) {
	f.writes++
	return "cn=" + fp + ",o=crl,c=" + country, nil
}
func (f *fakeDir) Exists(ctx context.Context, dn string) (bool, error) { return true, nil }
func (f *fakeDir) DeleteLeaf(ctx context.Context, dn string) error     { return nil }
func (f *fakeDir) ListLeaves(ctx context.Context, t core.CertificateType, country string) ([]core.LeafEntry, error) {
	return nil, nil
}
func (f *fakeDir) ListCrlLeaves(ctx context.Context, country string) ([]core.LeafEntry, error) {
	return nil, nil
}

type fakeAudit struct{ entries []core.UploadEntryAudit }

func (f *fakeAudit) Create(ctx context.Context, upload *core.Upload) error { return nil }
func (f *fakeAudit) FindByHash(ctx context.Context, hash string) (*core.Upload, bool, error) {
	return nil, false, nil
}
func (f *fakeAudit) Get(ctx context.Context, id string) (*core.Upload, bool, error) {
	return nil, false, nil
}
func (f *fakeAudit) Update(ctx context.Context, upload *core.Upload) error { return nil }
func (f *fakeAudit) FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]core.Upload, error) {
	return nil, nil
}
func (f *fakeAudit) AppendAudit(ctx context.Context, audit core.UploadEntryAudit) error {
	f.entries = append(f.entries, audit)
	return nil
}
func (f *fakeAudit) DeleteCascade(ctx context.Context, id string) error { return nil }

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) InvalidateCache() { f.calls++ }

func mustLogger(t *testing.T) blog.Logger {
	t.Helper()
	l, err := blog.New(nil, "test")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func mustSelfSignedCSCA(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "CSCA-KOREA", Country: []string{"KR"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func TestIngestCertificateInsertsAndMirrorsOnce(t *testing.T) {
	certs := newFakeCerts()
	dir := &fakeDir{}
	audit := &fakeAudit{}
	pipe := NewPipeline(certs, &fakeCrls{}, dir, nil, audit, nil, nil, clock.NewFake(), mustLogger(t), metrics.NewNoopScope())

	der := mustSelfSignedCSCA(t)

	outcome, err := pipe.IngestCertificate(context.Background(), "upload-1", der, "", false)
	if err != nil {
		t.Fatalf("IngestCertificate: %v", err)
	}
	if !outcome.Inserted {
		t.Fatal("expected the first ingest to insert")
	}
	if outcome.CertType != core.CSCA {
		t.Fatalf("expected CSCA classification, got %s", outcome.CertType)
	}
	if dir.writes != 1 {
		t.Fatalf("expected one directory write, got %d", dir.writes)
	}
	if len(certs.marked) != 1 {
		t.Fatalf("expected the certificate marked stored in directory, got %d", len(certs.marked))
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}

	again, err := pipe.IngestCertificate(context.Background(), "upload-2", der, "", false)
	if err != nil {
		t.Fatalf("second IngestCertificate: %v", err)
	}
	if again.Inserted || !again.Duplicate {
		t.Fatal("expected the second ingest of the same DER to be a dedupe no-op")
	}
	if dir.writes != 1 {
		t.Fatalf("expected no additional directory write on dedupe, got %d writes", dir.writes)
	}
}

func TestIngestCertificateRejectsMalformedDER(t *testing.T) {
	pipe := NewPipeline(newFakeCerts(), &fakeCrls{}, &fakeDir{}, nil, nil, nil, nil, clock.NewFake(), mustLogger(t), metrics.NewNoopScope())

	if _, err := pipe.IngestCertificate(context.Background(), "upload-1", []byte("not a certificate"), "", false); err == nil {
		t.Fatal("expected an error for malformed DER")
	}
}

func TestIngestCertificateInvalidatesCacheOnNewCSCA(t *testing.T) {
	inv := &fakeInvalidator{}
	pipe := NewPipeline(newFakeCerts(), &fakeCrls{}, &fakeDir{}, nil, &fakeAudit{}, nil, inv, clock.NewFake(), mustLogger(t), metrics.NewNoopScope())

	der := mustSelfSignedCSCA(t)
	if _, err := pipe.IngestCertificate(context.Background(), "upload-1", der, "", false); err != nil {
		t.Fatalf("IngestCertificate: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("expected one cache invalidation for the newly inserted CSCA, got %d", inv.calls)
	}

	if _, err := pipe.IngestCertificate(context.Background(), "upload-2", der, "", false); err != nil {
		t.Fatalf("second IngestCertificate: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("expected no additional invalidation on a duplicate CSCA, got %d calls", inv.calls)
	}
}
