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

// fakeValidationDB is a minimal in-memory stand-in for a borp DbMap,
// narrowed to what ValidationResultRepo calls. Unlike the other sa fakes,
// Exec is wired up here since Put's overwrite path issues one.
type fakeValidationDB struct {
	byFingerprint map[string]*core.ValidationResult
}

func newFakeValidationDB() *fakeValidationDB {
	return &fakeValidationDB{byFingerprint: map[string]*core.ValidationResult{}}
}

func (f *fakeValidationDB) SelectOne(dest interface{}, query string, args ...interface{}) error {
	result, ok := dest.(*core.ValidationResult)
	if !ok {
		return sql.ErrNoRows
	}
	fingerprint := args[0].(string)
	found, ok := f.byFingerprint[fingerprint]
	if !ok {
		return sql.ErrNoRows
	}
	*result = *found
	return nil
}

func (f *fakeValidationDB) Select(dest interface{}, query string, args ...interface{}) ([]interface{}, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeValidationDB) Insert(list ...interface{}) error {
	for _, v := range list {
		result := v.(*core.ValidationResult)
		f.byFingerprint[result.CertificateFingerprint] = result
	}
	return nil
}

func (f *fakeValidationDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	id := args[len(args)-1].(string)
	for _, r := range f.byFingerprint {
		if r.ID == id {
			r.ValidationStatus = core.ValidationStatus(args[2].(string)) // validation_status is the third SET column
			r.Revoked = args[6].(bool)
		}
	}
	return nil, nil
}

func (f *fakeValidationDB) Begin() (*borp.Transaction, error) {
	return nil, errors.New("fakeValidationDB does not support transactions")
}

func TestValidationResultRepoPutInsertsThenOverwrites(t *testing.T) {
	fake := newFakeValidationDB()
	repo := NewValidationResultRepo(fake)

	first := core.ValidationResult{
		CertificateFingerprint: "abc123",
		ValidationStatus:       core.ValidationValid,
		ValidatedAt:            time.Now(),
	}
	if err := repo.Put(context.Background(), first); err != nil {
		t.Fatalf("first put: %v", err)
	}

	stored, found, err := repo.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected a stored result")
	}
	firstID := stored.ID
	if firstID == "" {
		t.Fatal("expected an assigned ID")
	}

	second := core.ValidationResult{
		CertificateFingerprint: "abc123",
		ValidationStatus:       core.ValidationInvalid,
		Revoked:                true,
		ValidatedAt:            time.Now(),
	}
	if err := repo.Put(context.Background(), second); err != nil {
		t.Fatalf("second put: %v", err)
	}

	stored, found, err = repo.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if !found {
		t.Fatal("expected a stored result after overwrite")
	}
	if stored.ID != firstID {
		t.Fatalf("expected the same row to be reused, got ID %s vs %s", stored.ID, firstID)
	}
	if !stored.Revoked {
		t.Fatal("expected the overwrite to record revoked = true")
	}
}
