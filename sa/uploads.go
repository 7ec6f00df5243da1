package sa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/db"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// countsJSON marshals a per-type count map for a hand-written UPDATE; the
// borp TypeConverter only runs on values borp itself marshals (Insert/
// Select), not on positional Exec arguments.
func countsJSON(counts map[string]int) string {
	b, err := json.Marshal(counts)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UploadRepo implements core.UploadStore.
type UploadRepo struct {
	dbMap db.DatabaseMap
}

// NewUploadRepo constructs an UploadRepo.
func NewUploadRepo(dbMap db.DatabaseMap) *UploadRepo {
	return &UploadRepo{dbMap: dbMap}
}

// Create inserts upload, assigning it an ID if it doesn't already have one.
func (r *UploadRepo) Create(ctx context.Context, upload *core.Upload) error {
	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}
	if err := r.dbMap.Insert(upload); err != nil {
		return pkderrors.StoreWrite("insert upload: %v", err)
	}
	return nil
}

// FindByHash looks up a prior upload by file hash, the hash-dedupe check
// spec §4.7 requires before scheduling a new upload for processing.
func (r *UploadRepo) FindByHash(ctx context.Context, hash string) (*core.Upload, bool, error) {
	var upload core.Upload
	err := r.dbMap.SelectOne(&upload, "SELECT * FROM uploads WHERE file_hash_sha256 = $1", hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select upload by hash: %w", err)
	}
	return &upload, true, nil
}

// Get returns an upload by ID.
func (r *UploadRepo) Get(ctx context.Context, id string) (*core.Upload, bool, error) {
	var upload core.Upload
	err := r.dbMap.SelectOne(&upload, "SELECT * FROM uploads WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select upload: %w", err)
	}
	return &upload, true, nil
}

// Update writes an upload's status, completion time, counts, and failure
// reason back to its row; the file name, hash, size, format, and creation
// time keep their stored values. The orchestrator calls
// this on every status transition (spec §4.7 step 5).
func (r *UploadRepo) Update(ctx context.Context, upload *core.Upload) error {
	_, err := r.dbMap.Exec(`UPDATE uploads SET
		status = $1, completed_at = $2, total_entries = $3, successful_count = $4,
		error_count = $5, duplicate_count = $6, counts_by_type = $7,
		duplicate_counts_by_type = $8, failure_reason = $9
		WHERE id = $10`,
		string(upload.Status), upload.CompletedAt, upload.TotalEntries, upload.SuccessfulCount,
		upload.ErrorCount, upload.DuplicateCount, countsJSON(upload.CountsByType),
		countsJSON(upload.DuplicateCountsByType), upload.FailureReason, upload.ID)
	if err != nil {
		return pkderrors.StoreWrite("update upload: %v", err)
	}
	return nil
}

// FindStaleProcessing returns uploads still in PROCESSING status that
// started before olderThan, the timeout supervisor's input (spec §4.7,
// UPLOAD_TIMEOUT_MS).
func (r *UploadRepo) FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]core.Upload, error) {
	rows, err := r.dbMap.Select(&[]core.Upload{},
		"SELECT * FROM uploads WHERE status = $1 AND created_at < $2",
		string(core.StatusProcessing), olderThan)
	if err != nil {
		return nil, fmt.Errorf("sa: select stale uploads: %w", err)
	}
	out := make([]core.Upload, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.(*core.Upload))
	}
	return out, nil
}

// AppendAudit persists one per-entry audit row (spec §4.4 step 8, §12).
func (r *UploadRepo) AppendAudit(ctx context.Context, audit core.UploadEntryAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&audit); err != nil {
		return pkderrors.StoreWrite("append upload audit: %v", err)
	}
	return nil
}

// DeleteCascade removes an upload row and its per-entry audit trail in one
// transaction, so a crash between the two deletes can't leave the audit
// rows orphaned from a still-present upload row or vice versa. The caller
// is responsible for cascading to certificates
// (CertificateRepo.DeleteCascade). CRL rows the upload contributed are not
// removed: CrlRepository has no cascade delete.
func (r *UploadRepo) DeleteCascade(ctx context.Context, id string) error {
	err := db.WithTransaction(r.dbMap, func(tx db.Transaction) error {
		if _, err := tx.Exec("DELETE FROM upload_entry_audit WHERE upload_id = $1", id); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM uploads WHERE id = $1", id)
		return err
	})
	if err != nil {
		return pkderrors.StoreWrite("delete upload cascade: %v", err)
	}
	return nil
}
