package core

import (
	"context"
	"time"
)

// Insertion reports the outcome of a content-addressed upsert. Inserting a
// duplicate (type, fingerprint) is a no-op, never an error — spec §3
// invariant 1.
type Insertion struct {
	Inserted bool
	ID       string
}

// CountryCount is one row of a count-by-country aggregate.
type CountryCount struct {
	CountryCode string
	Count       int
}

// CertificateRepository is the authoritative, content-addressed store for
// Certificate rows. See spec §4.2.
type CertificateRepository interface {
	Upsert(ctx context.Context, cert Certificate) (Insertion, error)
	FindByFingerprint(ctx context.Context, certType CertificateType, fingerprint string) (*Certificate, bool, error)
	// FindCscaByIssuerDN returns one CSCA whose normalized subject DN
	// matches normalizedIssuerDN, or ok=false if none is stored.
	FindCscaByIssuerDN(ctx context.Context, normalizedIssuerDN string) (*Certificate, bool, error)
	// FindAllCscasBySubjectDN returns every CSCA (including link
	// certificates and re-issued roots) sharing a normalized subject DN.
	FindAllCscasBySubjectDN(ctx context.Context, normalizedSubjectDN string) ([]Certificate, error)
	// AllCscas returns every stored CSCA, used to fill the trust chain
	// validator's cache.
	AllCscas(ctx context.Context) ([]Certificate, error)
	FindMissingInDirectory(ctx context.Context, certType CertificateType) ([]Certificate, error)
	MarkStoredInDirectory(ctx context.Context, id, dn string) error
	CountByType(ctx context.Context, countryCode string) (map[CertificateType]int, error)
	CountByCountry(ctx context.Context, certType CertificateType) ([]CountryCount, error)
	SummaryByUpload(ctx context.Context, uploadID string) (map[CertificateType]int, error)
	// DeleteCascade removes every certificate exclusively contributed by
	// uploadID (spec §3 Lifecycle, §12 Upload cascade delete).
	DeleteCascade(ctx context.Context, uploadID string) error
}

// CrlRepository stores parsed CRLs. Structurally parallel to
// CertificateRepository but kept separate since CRLs have no "type" axis.
type CrlRepository interface {
	Upsert(ctx context.Context, crl Crl) (Insertion, error)
	FindByIssuerDN(ctx context.Context, normalizedIssuerDN string) (*Crl, bool, error)
	// FindByFingerprint looks up a CRL by its content address, used by
	// reconciliation's orphan-deletion path to test a directory leaf's
	// fingerprint against the repository.
	FindByFingerprint(ctx context.Context, fingerprint string) (*Crl, bool, error)
	FindMissingInDirectory(ctx context.Context) ([]Crl, error)
	MarkStoredInDirectory(ctx context.Context, id, dn string) error
	// CountByCountry counts stored CRLs grouped by country, the repository
	// side of reconciliation's per-type snapshot (spec §4.6 step 1).
	CountByCountry(ctx context.Context) ([]CountryCount, error)
}

// UploadStore persists Upload rows and their per-entry audit trail. See
// spec §4.7 and §12.
type UploadStore interface {
	Create(ctx context.Context, upload *Upload) error
	FindByHash(ctx context.Context, hash string) (*Upload, bool, error)
	Get(ctx context.Context, id string) (*Upload, bool, error)
	Update(ctx context.Context, upload *Upload) error
	FindStaleProcessing(ctx context.Context, olderThan time.Time) ([]Upload, error)
	AppendAudit(ctx context.Context, audit UploadEntryAudit) error
	DeleteCascade(ctx context.Context, id string) error
}

// ValidationResultStore persists one ValidationResult per certificate,
// overwritten on re-validation (spec §3 Lifecycle).
type ValidationResultStore interface {
	Put(ctx context.Context, result ValidationResult) error
	Get(ctx context.Context, fingerprint string) (*ValidationResult, bool, error)
}

// ReconciliationStore persists run summaries and per-operation logs.
type ReconciliationStore interface {
	SaveSummary(ctx context.Context, summary *ReconciliationSummary) error
	SaveLog(ctx context.Context, entry ReconciliationLog) error
	SaveSyncStatus(ctx context.Context, status SyncStatus) error
}

// DirectoryWriter mirrors the LDAP DIT described in spec §4.3 and §6.
type DirectoryWriter interface {
	// EnsureContainer idempotently creates the country container and
	// organizational unit for certType under countryCode.
	EnsureContainer(ctx context.Context, certType CertificateType, countryCode string) error
	// WriteCertificate inserts (or replaces, if already present) a leaf
	// entry and returns its DN.
	WriteCertificate(ctx context.Context, certType CertificateType, countryCode, fingerprint, subjectDN, serialNumber string, der []byte) (string, error)
	WriteCrl(ctx context.Context, countryCode, fingerprint, issuerDN string, der []byte) (string, error)
	// Exists reports whether an entry is present at dn.
	Exists(ctx context.Context, dn string) (bool, error)
	// DeleteLeaf removes a leaf entry. Used only by reconciliation's
	// orphan-deletion path (spec §4.3, §12).
	DeleteLeaf(ctx context.Context, dn string) error
	// ListLeaves enumerates certificate leaves stored under certType's
	// organizational unit for countryCode, used by reconciliation's
	// orphan-deletion path to find directory entries absent from the
	// repository (spec §12 Reconciliation deletion path).
	ListLeaves(ctx context.Context, certType CertificateType, countryCode string) ([]LeafEntry, error)
	// ListCrlLeaves is ListLeaves' CRL-repository counterpart; CRLs have
	// no "type" axis so they're enumerated separately.
	ListCrlLeaves(ctx context.Context, countryCode string) ([]LeafEntry, error)
}

// LeafEntry is one directory leaf entry: its full DN and the fingerprint
// encoded in its leading cn= RDN.
type LeafEntry struct {
	DN          string
	Fingerprint string
}

// TrustChainValidator implements spec §4.5.
type TrustChainValidator interface {
	Validate(ctx context.Context, dsc Certificate) (ValidationResult, error)
	// ValidateBatch validates many DSCs against a single cache fill,
	// grouped by issuer DN to maximize cache warmth (spec §4.5
	// Performance, §12 Validation batch scheduling).
	ValidateBatch(ctx context.Context, certs []Certificate) ([]ValidationResult, error)
	// InvalidateCache drops the in-memory CSCA cache. Called whenever a
	// CSCA is inserted into or removed from the repository.
	InvalidateCache()
}

// Event is one entry in the per-upload progress stream (spec §6).
type Event struct {
	ID        string
	UploadID  string
	Timestamp time.Time
	EventName string
	Detail    string
	Status    string
}

// EventPublisher is the per-upload event broker (spec §4.4 "Progress
// reporting", §5 "Per-upload event broker").
type EventPublisher interface {
	Publish(evt Event)
	// Subscribe returns a channel of events for uploadID and an unsubscribe
	// func. The channel is closed when unsubscribe is called.
	Subscribe(uploadID string) (<-chan Event, func())
}

// Recognized event names, spec §6.
const (
	EventParsingInProgress  = "PARSING_IN_PROGRESS"
	EventParsingCompleted   = "PARSING_COMPLETED"
	EventParsingFailed      = "PARSING_FAILED"
	EventDBSavingInProgress = "DB_SAVING_IN_PROGRESS"
	EventDBSavingCompleted  = "DB_SAVING_COMPLETED"
	EventLDAPSavingCompleted = "LDAP_SAVING_COMPLETED"
	EventValidationProgress = "VALIDATION_PROGRESS"
	EventDuplicateDetected  = "DUPLICATE_DETECTED"
	EventUploadCompleted    = "UPLOAD_COMPLETED"
	EventUploadFailed       = "UPLOAD_FAILED"
)

// Event status values, spec §6.
const (
	StatusInfo    = "info"
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusWarning = "warning"
)
