package sa

import (
	"context"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/db"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// ReconciliationRepo implements core.ReconciliationStore.
type ReconciliationRepo struct {
	dbMap db.DatabaseMap
}

// NewReconciliationRepo constructs a ReconciliationRepo.
func NewReconciliationRepo(dbMap db.DatabaseMap) *ReconciliationRepo {
	return &ReconciliationRepo{dbMap: dbMap}
}

// SaveSummary persists one reconciliation run's summary row.
func (r *ReconciliationRepo) SaveSummary(ctx context.Context, summary *core.ReconciliationSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(summary); err != nil {
		return pkderrors.StoreWrite("insert reconciliation summary: %v", err)
	}
	return nil
}

// SaveLog persists one per-operation row within a run.
func (r *ReconciliationRepo) SaveLog(ctx context.Context, entry core.ReconciliationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&entry); err != nil {
		return pkderrors.StoreWrite("insert reconciliation log: %v", err)
	}
	return nil
}

// SaveSyncStatus persists a point-in-time count snapshot (spec §12
// SnapshotSyncStatus).
func (r *ReconciliationRepo) SaveSyncStatus(ctx context.Context, status core.SyncStatus) error {
	if status.ID == "" {
		status.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&status); err != nil {
		return pkderrors.StoreWrite("insert sync status: %v", err)
	}
	return nil
}
