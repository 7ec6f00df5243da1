package sa

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/letsencrypt/borp"

	"github.com/icao-pkd/localpkd-core/core"
)

// fakeDB is a minimal in-memory stand-in for a borp DbMap. The domain logic
// under test (dedupe-by-fingerprint) does not depend on real SQL semantics,
// so a map-backed fake is sufficient and keeps the test free of a driver
// dependency.
type fakeDB struct {
	certsByKey map[string]*core.Certificate
}

func newFakeDB() *fakeDB {
	return &fakeDB{certsByKey: map[string]*core.Certificate{}}
}

func (f *fakeDB) SelectOne(dest interface{}, query string, args ...interface{}) error {
	cert, ok := dest.(*core.Certificate)
	if !ok {
		return sql.ErrNoRows
	}
	certType := args[0].(string)
	fingerprint := args[1].(string)
	found, ok := f.certsByKey[certType+"|"+fingerprint]
	if !ok {
		return sql.ErrNoRows
	}
	*cert = *found
	return nil
}

func (f *fakeDB) Select(dest interface{}, query string, args ...interface{}) ([]interface{}, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeDB) Insert(list ...interface{}) error {
	for _, v := range list {
		cert := v.(*core.Certificate)
		f.certsByKey[string(cert.Type)+"|"+cert.Fingerprint] = cert
	}
	return nil
}

func (f *fakeDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeDB) Begin() (*borp.Transaction, error) {
	return nil, errors.New("fakeDB does not support transactions")
}

func TestCertificateRepoUpsertDedupe(t *testing.T) {
	fake := newFakeDB()
	repo := NewCertificateRepo(fake)

	cert := core.Certificate{
		Type:        core.CSCA,
		Fingerprint: "abc123",
		SubjectDN:   "CN=CSCA-KOREA,C=KR",
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(10, 0, 0),
	}

	first, err := repo.Upsert(context.Background(), cert)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !first.Inserted {
		t.Fatal("expected first upsert to insert")
	}

	second, err := repo.Upsert(context.Background(), cert)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Inserted {
		t.Fatal("expected second upsert to be a no-op")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same ID, got %s vs %s", second.ID, first.ID)
	}
}
