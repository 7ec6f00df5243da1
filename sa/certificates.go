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

// CertificateRepo implements core.CertificateRepository over a borp
// DatabaseMap. One struct wraps a dbMap and a set of narrow query methods,
// the same split boulder's sa.SQLStorageAuthority uses.
type CertificateRepo struct {
	dbMap db.DatabaseMap
}

// NewCertificateRepo constructs a CertificateRepo.
func NewCertificateRepo(dbMap db.DatabaseMap) *CertificateRepo {
	return &CertificateRepo{dbMap: dbMap}
}

// Upsert inserts cert if no row with the same (type, fingerprint) exists.
// A duplicate is never an error: spec §3 invariant 1.
func (r *CertificateRepo) Upsert(ctx context.Context, cert core.Certificate) (core.Insertion, error) {
	existing, found, err := r.FindByFingerprint(ctx, cert.Type, cert.Fingerprint)
	if err != nil {
		return core.Insertion{}, err
	}
	if found {
		return core.Insertion{Inserted: false, ID: existing.ID}, nil
	}

	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&cert); err != nil {
		return core.Insertion{}, pkderrors.StoreWrite("insert certificate: %v", err)
	}
	return core.Insertion{Inserted: true, ID: cert.ID}, nil
}

// FindByFingerprint looks up a certificate by its content address.
func (r *CertificateRepo) FindByFingerprint(ctx context.Context, certType core.CertificateType, fingerprint string) (*core.Certificate, bool, error) {
	var cert core.Certificate
	err := r.dbMap.SelectOne(&cert,
		"SELECT * FROM certificates WHERE certificate_type = $1 AND fingerprint_sha256 = $2",
		string(certType), fingerprint)
	return rowOrNotFound(&cert, err)
}

// FindCscaByIssuerDN returns one CSCA whose normalized subject DN matches.
// When several CSCAs share a subject DN (re-issued roots, link certs) this
// returns an arbitrary one; callers needing every candidate use
// FindAllCscasBySubjectDN (spec §4.5 chain build tries every candidate).
func (r *CertificateRepo) FindCscaByIssuerDN(ctx context.Context, normalizedIssuerDN string) (*core.Certificate, bool, error) {
	var cert core.Certificate
	err := r.dbMap.SelectOne(&cert,
		"SELECT * FROM certificates WHERE certificate_type = $1 AND normalized_subject_dn = $2 LIMIT 1",
		string(core.CSCA), normalizedIssuerDN)
	return rowOrNotFound(&cert, err)
}

// FindAllCscasBySubjectDN returns every CSCA sharing a normalized subject
// DN, including link certificates and re-issued roots.
func (r *CertificateRepo) FindAllCscasBySubjectDN(ctx context.Context, normalizedSubjectDN string) ([]core.Certificate, error) {
	return r.selectCerts(
		"SELECT * FROM certificates WHERE certificate_type = $1 AND normalized_subject_dn = $2",
		string(core.CSCA), normalizedSubjectDN)
}

// AllCscas returns every stored CSCA, used to fill the validator's cache.
func (r *CertificateRepo) AllCscas(ctx context.Context) ([]core.Certificate, error) {
	return r.selectCerts("SELECT * FROM certificates WHERE certificate_type = $1", string(core.CSCA))
}

// FindMissingInDirectory returns certificates of certType not yet mirrored
// into LDAP, the reconciliation engine's add-side diff input.
func (r *CertificateRepo) FindMissingInDirectory(ctx context.Context, certType core.CertificateType) ([]core.Certificate, error) {
	return r.selectCerts(
		"SELECT * FROM certificates WHERE certificate_type = $1 AND stored_in_ldap = false",
		string(certType))
}

// MarkStoredInDirectory records a successful directory write. Per spec §5
// ordering this call happens-after the directory write it records.
func (r *CertificateRepo) MarkStoredInDirectory(ctx context.Context, id, dn string) error {
	_, err := r.dbMap.Exec(
		"UPDATE certificates SET stored_in_ldap = true, directory_dn = $1 WHERE id = $2", dn, id)
	if err != nil {
		return pkderrors.StoreWrite("mark stored in directory: %v", err)
	}
	return nil
}

// CountByType counts certificates of every type, optionally scoped to a
// country (empty string means all countries).
func (r *CertificateRepo) CountByType(ctx context.Context, countryCode string) (map[core.CertificateType]int, error) {
	query := "SELECT certificate_type, COUNT(*) AS n FROM certificates"
	args := []interface{}{}
	if countryCode != "" {
		query += " WHERE country_code = $1"
		args = append(args, countryCode)
	}
	query += " GROUP BY certificate_type"

	rows, err := r.dbMap.Select(&[]struct {
		CertificateType string `db:"certificate_type"`
		N               int    `db:"n"`
	}{}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sa: count by type: %w", err)
	}

	out := map[core.CertificateType]int{}
	for _, row := range rows {
		r := row.(*struct {
			CertificateType string `db:"certificate_type"`
			N               int    `db:"n"`
		})
		out[core.CertificateType(r.CertificateType)] = r.N
	}
	return out, nil
}

// CountByCountry counts certificates of certType grouped by country.
func (r *CertificateRepo) CountByCountry(ctx context.Context, certType core.CertificateType) ([]core.CountryCount, error) {
	rows, err := r.dbMap.Select(&[]struct {
		CountryCode string `db:"country_code"`
		N           int    `db:"n"`
	}{},
		"SELECT country_code, COUNT(*) AS n FROM certificates WHERE certificate_type = $1 GROUP BY country_code",
		string(certType))
	if err != nil {
		return nil, fmt.Errorf("sa: count by country: %w", err)
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

// SummaryByUpload returns per-type insertion counts for one upload, used
// to populate Upload.CountsByType on completion.
func (r *CertificateRepo) SummaryByUpload(ctx context.Context, uploadID string) (map[core.CertificateType]int, error) {
	rows, err := r.dbMap.Select(&[]struct {
		CertificateType string `db:"certificate_type"`
		N               int    `db:"n"`
	}{},
		"SELECT certificate_type, COUNT(*) AS n FROM certificates WHERE contributing_upload_id = $1 GROUP BY certificate_type",
		uploadID)
	if err != nil {
		return nil, fmt.Errorf("sa: summary by upload: %w", err)
	}

	out := map[core.CertificateType]int{}
	for _, row := range rows {
		r := row.(*struct {
			CertificateType string `db:"certificate_type"`
			N               int    `db:"n"`
		})
		out[core.CertificateType(r.CertificateType)] = r.N
	}
	return out, nil
}

// DeleteCascade removes every certificate exclusively contributed by
// uploadID, the operator-invoked cascade spec §3's Lifecycle section
// describes.
func (r *CertificateRepo) DeleteCascade(ctx context.Context, uploadID string) error {
	err := db.WithTransaction(r.dbMap, func(tx db.Transaction) error {
		_, err := tx.Exec("DELETE FROM certificates WHERE contributing_upload_id = $1", uploadID)
		return err
	})
	if err != nil {
		return pkderrors.StoreWrite("delete cascade: %v", err)
	}
	return nil
}

func (r *CertificateRepo) selectCerts(query string, args ...interface{}) ([]core.Certificate, error) {
	rows, err := r.dbMap.Select(&[]core.Certificate{}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sa: select certificates: %w", err)
	}
	out := make([]core.Certificate, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.(*core.Certificate))
	}
	return out, nil
}

func rowOrNotFound(cert *core.Certificate, err error) (*core.Certificate, bool, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sa: select certificate: %w", err)
	}
	return cert, true, nil
}
