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

// fakeInsertOnlyDB is a minimal in-memory stand-in for a borp DbMap that
// only needs to capture Insert calls, narrowed to what ReconciliationRepo
// and ContainerRepo call.
type fakeInsertOnlyDB struct {
	inserted []interface{}
}

func (f *fakeInsertOnlyDB) SelectOne(dest interface{}, query string, args ...interface{}) error {
	return sql.ErrNoRows
}

func (f *fakeInsertOnlyDB) Select(dest interface{}, query string, args ...interface{}) ([]interface{}, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeInsertOnlyDB) Insert(list ...interface{}) error {
	f.inserted = append(f.inserted, list...)
	return nil
}

func (f *fakeInsertOnlyDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return nil, errors.New("not implemented in fake")
}

func (f *fakeInsertOnlyDB) Begin() (*borp.Transaction, error) {
	return nil, errors.New("fakeInsertOnlyDB does not support transactions")
}

func TestReconciliationRepoSaveSummaryAssignsID(t *testing.T) {
	fake := &fakeInsertOnlyDB{}
	repo := NewReconciliationRepo(fake)

	summary := &core.ReconciliationSummary{StartedAt: time.Now(), TotalProcessed: 5, SuccessCount: 5}
	if err := repo.SaveSummary(context.Background(), summary); err != nil {
		t.Fatalf("save summary: %v", err)
	}
	if summary.ID == "" {
		t.Fatal("expected an assigned ID")
	}
	if len(fake.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(fake.inserted))
	}
}

func TestReconciliationRepoSaveLogAssignsID(t *testing.T) {
	fake := &fakeInsertOnlyDB{}
	repo := NewReconciliationRepo(fake)

	entry := core.ReconciliationLog{
		SummaryID:   "summary-1",
		Operation:   core.OpAdd,
		CertType:    core.CSCA,
		CountryCode: "KR",
		Status:      core.OpSuccess,
		CreatedAt:   time.Now(),
	}
	if err := repo.SaveLog(context.Background(), entry); err != nil {
		t.Fatalf("save log: %v", err)
	}
	if len(fake.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(fake.inserted))
	}
	stored := fake.inserted[0].(*core.ReconciliationLog)
	if stored.ID == "" {
		t.Fatal("expected an assigned ID")
	}
}

func TestReconciliationRepoSaveSyncStatus(t *testing.T) {
	fake := &fakeInsertOnlyDB{}
	repo := NewReconciliationRepo(fake)

	status := core.SyncStatus{
		CapturedAt:       time.Now(),
		RepositoryCounts: map[string]int{"CSCA": 10},
		DirectoryCounts:  map[string]int{"CSCA": 9},
		Discrepancy:      map[string]int{"CSCA": 1},
	}
	if err := repo.SaveSyncStatus(context.Background(), status); err != nil {
		t.Fatalf("save sync status: %v", err)
	}
	if len(fake.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(fake.inserted))
	}
}
