// Package core defines the domain types shared by every package in the
// ICAO Local PKD ingestion core, and the interfaces that let the
// ingestion pipeline, the trust chain validator, and the reconciliation
// engine depend on each other's contracts without importing each other's
// concrete packages.
package core

import "time"

// CertificateType classifies a stored Certificate. See spec §1 and §4.4
// for the classification rule.
type CertificateType string

const (
	CSCA   CertificateType = "CSCA"
	DSC    CertificateType = "DSC"
	DSCNC  CertificateType = "DSC_NC"
	MLSC   CertificateType = "MLSC"
	Unknown CertificateType = "UNKNOWN"
)

// UploadFormat is the format hint supplied (or detected) at upload time.
type UploadFormat string

const (
	FormatLDIF UploadFormat = "LDIF"
	FormatML   UploadFormat = "ML"
	FormatCert UploadFormat = "CERT"
	FormatCRL  UploadFormat = "CRL"
	FormatDL   UploadFormat = "DL"
)

// UploadStatus is the lifecycle state of an Upload row.
type UploadStatus string

const (
	StatusProcessing UploadStatus = "PROCESSING"
	StatusCompleted  UploadStatus = "COMPLETED"
	StatusFailed     UploadStatus = "FAILED"
)

// ValidationStatus is the outcome of validating a DSC/DSC_NC. See spec §4.5
// step 3.
type ValidationStatus string

const (
	ValidationValid        ValidationStatus = "VALID"
	ValidationInvalid      ValidationStatus = "INVALID"
	ValidationPending      ValidationStatus = "PENDING"
	ValidationExpiredValid ValidationStatus = "EXPIRED_VALID"
	ValidationError        ValidationStatus = "ERROR"
)

// ReconciliationOp is the kind of repair a ReconciliationLog row records.
type ReconciliationOp string

const (
	OpAdd    ReconciliationOp = "ADD"
	OpDelete ReconciliationOp = "DELETE"
)

// RunStatus is the terminal status of one reconciliation run.
type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunPartial   RunStatus = "PARTIAL"
)

// OpStatus is the per-item outcome recorded in a ReconciliationLog row.
type OpStatus string

const (
	OpSuccess OpStatus = "SUCCESS"
	OpFailed  OpStatus = "FAILED"
)

// Certificate is the essential record for every X.509 certificate the core
// ingests, spanning CSCA, DSC, DSC_NC, and MLSC. See spec §3.
type Certificate struct {
	ID                      string          `db:"id"`
	Type                    CertificateType `db:"certificate_type"`
	Fingerprint             string          `db:"fingerprint_sha256"`
	CountryCode             string          `db:"country_code"`
	SubjectDN               string          `db:"subject_dn"`
	IssuerDN                string          `db:"issuer_dn"`
	NormalizedSubjectDN     string          `db:"normalized_subject_dn"`
	NormalizedIssuerDN      string          `db:"normalized_issuer_dn"`
	SerialNumber            string          `db:"serial_number"`
	NotBefore               time.Time       `db:"not_before"`
	NotAfter                time.Time       `db:"not_after"`
	SignatureAlgorithm      string          `db:"signature_algorithm"`
	PublicKeyAlgorithm      string          `db:"public_key_algorithm"`
	PublicKeySize           int             `db:"public_key_size"`
	PublicKeyCurve          *string         `db:"public_key_curve"`
	KeyUsage                []string        `db:"key_usage"`
	ExtendedKeyUsage        []string        `db:"extended_key_usage"`
	IsCA                    bool            `db:"is_ca"`
	PathLenConstraint       *int            `db:"path_len_constraint"`
	SubjectKeyIdentifier    *string         `db:"subject_key_identifier"`
	AuthorityKeyIdentifier  *string         `db:"authority_key_identifier"`
	CRLDistributionPoints   []string        `db:"crl_distribution_points"`
	OCSPResponderURL        *string         `db:"ocsp_responder_url"`
	IsSelfSigned            bool            `db:"is_self_signed"`
	DER                     []byte          `db:"der"`
	StoredInLDAP            bool            `db:"stored_in_ldap"`
	DirectoryDN             string          `db:"directory_dn"`
	ContributingUploadID    string          `db:"contributing_upload_id"`
	CreatedAt               time.Time       `db:"created_at"`
}

// RevokedCertificate is one entry in a CRL's revocation list.
type RevokedCertificate struct {
	ID             string    `db:"id"`
	CrlID          string    `db:"crl_id"`
	SerialNumber   string    `db:"serial_number"`
	RevocationDate time.Time `db:"revocation_date"`
	ReasonCode     string    `db:"reason_code"`
}

// Crl is a parsed Certificate Revocation List. See spec §3.
type Crl struct {
	ID                   string    `db:"id"`
	IssuerDN             string    `db:"issuer_dn"`
	NormalizedIssuerDN   string    `db:"normalized_issuer_dn"`
	ThisUpdate           time.Time `db:"this_update"`
	NextUpdate           *time.Time `db:"next_update"`
	CrlNumber            *string   `db:"crl_number"`
	Fingerprint          string    `db:"fingerprint_sha256"`
	CountryCode          string    `db:"country_code"`
	DER                  []byte    `db:"der"`
	StoredInLDAP         bool      `db:"stored_in_ldap"`
	DirectoryDN          string    `db:"directory_dn"`
	ContributingUploadID string    `db:"contributing_upload_id"`
	CreatedAt            time.Time `db:"created_at"`
	RevokedEntries       []RevokedCertificate `db:"-"`
}

// MasterList records a CMS SignedData Master List container after parsing.
// The certificates it contributed are stored as ordinary Certificate rows;
// this row exists for provenance and duplicate detection of the container
// itself.
type MasterList struct {
	ID                   string    `db:"id"`
	CountryCode          string    `db:"country_code"`
	Fingerprint          string    `db:"fingerprint_sha256"`
	DER                  []byte    `db:"der"`
	ContributingUploadID string    `db:"contributing_upload_id"`
	CreatedAt            time.Time `db:"created_at"`
}

// DeviationList records a CMS SignedData Deviation List container, stored
// verbatim per spec §4.4.
type DeviationList struct {
	ID                   string    `db:"id"`
	CountryCode          string    `db:"country_code"`
	Fingerprint          string    `db:"fingerprint_sha256"`
	SignerIdentity       string    `db:"signer_identity"`
	DER                  []byte    `db:"der"`
	ContributingUploadID string    `db:"contributing_upload_id"`
	CreatedAt            time.Time `db:"created_at"`
}

// Upload is one ingestion event: a file handed to the orchestrator. See
// spec §3 and §4.7.
type Upload struct {
	ID                    string            `db:"id"`
	FileName              string            `db:"file_name"`
	FileHash              string            `db:"file_hash_sha256"`
	FileSize              int64             `db:"file_size"`
	Format                UploadFormat      `db:"format"`
	Status                UploadStatus      `db:"status"`
	CreatedAt             time.Time         `db:"created_at"`
	CompletedAt           *time.Time        `db:"completed_at"`
	TotalEntries          int               `db:"total_entries"`
	SuccessfulCount       int               `db:"successful_count"`
	ErrorCount            int               `db:"error_count"`
	DuplicateCount        int               `db:"duplicate_count"`
	CountsByType          map[string]int    `db:"counts_by_type"`
	DuplicateCountsByType map[string]int    `db:"duplicate_counts_by_type"`
	FailureReason         string            `db:"failure_reason"`
}

// UploadEntryAudit is one row of the per-entry audit trail for an Upload
// (spec §4.4 step 8), persisted in addition to the live event stream so it
// survives after the bounded in-memory ring buffer rotates past it.
type UploadEntryAudit struct {
	ID        string    `db:"id"`
	UploadID  string    `db:"upload_id"`
	Sequence  int       `db:"sequence"`
	EventName string    `db:"event_name"`
	Detail    string    `db:"detail"`
	Status    string    `db:"status"`
	Timestamp time.Time `db:"timestamp"`
}

// ValidationResult is the outcome of validating one DSC/DSC_NC against the
// trust chain. See spec §3 and §4.5.
type ValidationResult struct {
	ID                     string           `db:"id"`
	CertificateFingerprint string           `db:"certificate_fingerprint"`
	TrustChainPath         []string         `db:"trust_chain_path"`
	TrustChainValid        bool             `db:"trust_chain_valid"`
	ValidationStatus       ValidationStatus `db:"validation_status"`
	SignatureValid         bool             `db:"signature_valid"`
	ExpirationStatus       string           `db:"expiration_status"`
	CRLChecked             bool             `db:"crl_checked"`
	Revoked                bool             `db:"revoked"`
	TrustChainMessage      *string          `db:"trust_chain_message"`
	CSCAFingerprint        *string          `db:"csca_fingerprint"`
	ValidatedAt            time.Time        `db:"validated_at"`
}

// ReconciliationSummary is the audit row for one reconciliation run. See
// spec §3 and §4.6 step 4.
type ReconciliationSummary struct {
	ID             string     `db:"id"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	DryRun         bool       `db:"dry_run"`
	TotalProcessed int        `db:"total_processed"`
	SuccessCount   int        `db:"success_count"`
	FailedCount    int        `db:"failed_count"`
	CscaAdded      int        `db:"csca_added"`
	DscAdded       int        `db:"dsc_added"`
	DscNcAdded     int        `db:"dsc_nc_added"`
	CrlAdded       int        `db:"crl_added"`
	CscaDeleted    int        `db:"csca_deleted"`
	DscDeleted     int        `db:"dsc_deleted"`
	CrlDeleted     int        `db:"crl_deleted"`
	DurationMs     int64      `db:"duration_ms"`
	Status         RunStatus  `db:"status"`
}

// ReconciliationLog is one per-operation row within a run. See spec §3.
type ReconciliationLog struct {
	ID           string           `db:"id"`
	SummaryID    string           `db:"summary_id"`
	Operation    ReconciliationOp `db:"operation"`
	CertType     CertificateType  `db:"cert_type"`
	CountryCode  string           `db:"country_code"`
	Subject      string           `db:"subject"`
	Fingerprint  string           `db:"fingerprint"`
	Status       OpStatus         `db:"status"`
	DurationMs   int64            `db:"duration_ms"`
	ErrorMessage string           `db:"error_message"`
	CreatedAt    time.Time        `db:"created_at"`
}

// SyncStatus is a point-in-time snapshot of per-type counts in each store,
// added per spec §12 to give the named-but-operationless entity in §3 a
// concrete producer.
type SyncStatus struct {
	ID                string         `db:"id"`
	CapturedAt        time.Time      `db:"captured_at"`
	RepositoryCounts  map[string]int `db:"repository_counts"`
	DirectoryCounts   map[string]int `db:"directory_counts"`
	Discrepancy       map[string]int `db:"discrepancy"`
}
