package sa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/db"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// CrlRepo implements core.CrlRepository.
type CrlRepo struct {
	dbMap db.DatabaseMap
}

// NewCrlRepo constructs a CrlRepo.
func NewCrlRepo(dbMap db.DatabaseMap) *CrlRepo {
	return &CrlRepo{dbMap: dbMap}
}

// Upsert inserts crl if no row with the same fingerprint exists.
func (r *CrlRepo) Upsert(ctx context.Context, crl core.Crl) (core.Insertion, error) {
	var existing core.Crl
	err := r.dbMap.SelectOne(&existing, "SELECT * FROM crls WHERE fingerprint_sha256 = $1", crl.Fingerprint)
	if err == nil {
		return core.Insertion{Inserted: false, ID: existing.ID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Insertion{}, fmt.Errorf("sa: select crl: %w", err)
	}

	if crl.ID == "" {
		crl.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&crl); err != nil {
		return core.Insertion{}, pkderrors.StoreWrite("insert crl: %v", err)
	}
	return core.Insertion{Inserted: true, ID: crl.ID}, nil
}

// FindByIssuerDN returns the most recently stored CRL for a normalized
// issuer DN, used by the validator's revocation check.
func (r *CrlRepo) FindByIssuerDN(ctx context.Context, normalizedIssuerDN string) (*core.Crl, bool, error) {
	var crl core.Crl
	err := r.dbMap.SelectOne(&crl,
		"SELECT * FROM crls WHERE normalized_issuer_dn = $1 ORDER BY this_update DESC LIMIT 1",
		normalizedIssuerDN)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select crl: %w", err)
	}
	return &crl, true, nil
}

// FindByFingerprint looks up a CRL by its content address.
func (r *CrlRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*core.Crl, bool, error) {
	var crl core.Crl
	err := r.dbMap.SelectOne(&crl, "SELECT * FROM crls WHERE fingerprint_sha256 = $1", fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select crl by fingerprint: %w", err)
	}
	return &crl, true, nil
}

// FindMissingInDirectory returns CRLs not yet mirrored into LDAP.
func (r *CrlRepo) FindMissingInDirectory(ctx context.Context) ([]core.Crl, error) {
	rows, err := r.dbMap.Select(&[]core.Crl{}, "SELECT * FROM crls WHERE stored_in_ldap = false")
	if err != nil {
		return nil, fmt.Errorf("sa: select crls: %w", err)
	}
	out := make([]core.Crl, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.(*core.Crl))
	}
	return out, nil
}

// MarkStoredInDirectory records a successful directory write for a CRL.
func (r *CrlRepo) MarkStoredInDirectory(ctx context.Context, id, dn string) error {
	_, err := r.dbMap.Exec("UPDATE crls SET stored_in_ldap = true, directory_dn = $1 WHERE id = $2", dn, id)
	if err != nil {
		return pkderrors.StoreWrite("mark crl stored in directory: %v", err)
	}
	return nil
}

// CountByCountry counts stored CRLs grouped by country, the repository
// side of reconciliation's per-type snapshot.
func (r *CrlRepo) CountByCountry(ctx context.Context) ([]core.CountryCount, error) {
	rows, err := r.dbMap.Select(&[]struct {
		CountryCode string `db:"country_code"`
		N           int    `db:"n"`
	}{}, "SELECT country_code, COUNT(*) AS n FROM crls GROUP BY country_code")
	if err != nil {
		return nil, fmt.Errorf("sa: count crls by country: %w", err)
	}
	out := make([]core.CountryCount, 0, len(rows))
	for _, row := range rows {
		r := row.(*struct {
			CountryCode string `db:"country_code"`
			N           int    `db:"n"`
		})
		out = append(out, core.CountryCount{CountryCode: r.CountryCode, Count: r.N})
	}
	return out, nil
}
