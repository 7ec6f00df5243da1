package sa

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/db"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// ValidationResultRepo implements core.ValidationResultStore. One result
// per certificate, overwritten on re-validation (spec §3 Lifecycle).
type ValidationResultRepo struct {
	dbMap db.DatabaseMap
}

// NewValidationResultRepo constructs a ValidationResultRepo.
func NewValidationResultRepo(dbMap db.DatabaseMap) *ValidationResultRepo {
	return &ValidationResultRepo{dbMap: dbMap}
}

// Put upserts result, replacing any prior result for the same certificate.
func (r *ValidationResultRepo) Put(ctx context.Context, result core.ValidationResult) error {
	existing, found, err := r.Get(ctx, result.CertificateFingerprint)
	if err != nil {
		return err
	}
	if found {
		result.ID = existing.ID
		_, err := r.dbMap.Exec(`UPDATE validation_results SET
			trust_chain_path = $1, trust_chain_valid = $2, validation_status = $3,
			signature_valid = $4, expiration_status = $5, crl_checked = $6,
			revoked = $7, trust_chain_message = $8, csca_fingerprint = $9, validated_at = $10
			WHERE id = $11`,
			pathJSON(result.TrustChainPath), result.TrustChainValid, string(result.ValidationStatus),
			result.SignatureValid, result.ExpirationStatus, result.CRLChecked,
			result.Revoked, result.TrustChainMessage, result.CSCAFingerprint, result.ValidatedAt, result.ID)
		if err != nil {
			return pkderrors.StoreWrite("update validation result: %v", err)
		}
		return nil
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&result); err != nil {
		return pkderrors.StoreWrite("insert validation result: %v", err)
	}
	return nil
}

// Get returns the stored validation result for a certificate fingerprint.
func (r *ValidationResultRepo) Get(ctx context.Context, fingerprint string) (*core.ValidationResult, bool, error) {
	var result core.ValidationResult
	err := r.dbMap.SelectOne(&result,
		"SELECT * FROM validation_results WHERE certificate_fingerprint = $1", fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select validation result: %w", err)
	}
	return &result, true, nil
}

func pathJSON(path []string) string {
	b, err := json.Marshal(path)
	if err != nil {
		return "[]"
	}
	return string(b)
}
