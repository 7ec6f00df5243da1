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

// fakeCrlDB is a minimal in-memory stand-in for a borp DbMap, narrowed to
// what CrlRepo actually calls, following the same pattern as fakeDB in
// certificates_test.go.
type fakeCrlDB struct {
	byFingerprint map[string]*core.Crl
}

func newFakeCrlDB() *fakeCrlDB {
	return &fakeCrlDB{byFingerprint: map[string]*core.Crl{}}
}

func (f *fakeCrlDB) SelectOne(dest interface{}, query string, args ...interface{}) error {
	crl, ok := dest.(*core.Crl)
	if !ok {
		return sql.ErrNoRows
	}
	fingerprint := args[0].(string)
	found, ok := f.byFingerprint[fingerprint]
	if !ok {
		return sql.ErrNoRows
	}
	*crl = *found
	return nil
}

func (f *fakeCrlDB) Select(dest interface{}, query string, args ...interface{}) ([]interface{}, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeCrlDB) Insert(list ...interface{}) error {
	for _, v := range list {
		crl := v.(*core.Crl)
		f.byFingerprint[crl.Fingerprint] = crl
	}
	return nil
}

func (f *fakeCrlDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeCrlDB) Begin() (*borp.Transaction, error) {
	return nil, errors.New("fakeCrlDB does not support transactions")
}

func TestCrlRepoUpsertDedupe(t *testing.T) {
	fake := newFakeCrlDB()
	repo := NewCrlRepo(fake)

	crl := core.Crl{
		IssuerDN:    "CN=CSCA-KOREA,C=KR",
		Fingerprint: "deadbeef",
		ThisUpdate:  time.Now(),
		CountryCode: "KR",
	}

	first, err := repo.Upsert(context.Background(), crl)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !first.Inserted {
		t.Fatal("expected first upsert to insert")
	}

	second, err := repo.Upsert(context.Background(), crl)
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

func TestCrlRepoFindByFingerprintMissing(t *testing.T) {
	fake := newFakeCrlDB()
	repo := NewCrlRepo(fake)

	_, found, err := repo.FindByFingerprint(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}
