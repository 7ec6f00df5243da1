package ingest

import (
	"context"

	"github.com/jmhodges/clock"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// Pipeline runs spec §4.4's eight-step per-entry process: decode,
// fingerprint, parse, classify, upsert, mirror to the directory, enqueue
// for validation, and emit an audit event. One Pipeline is shared by every
// ingester (LDIF, Master List, Deviation List) in a single upload's
// goroutine; per-entry processing is serial within an upload to preserve
// event ordering (spec §5).
type Pipeline struct {
	certs       core.CertificateRepository
	crls        core.CrlRepository
	dir         core.DirectoryWriter
	events      core.EventPublisher
	audit       core.UploadStore
	containers  MasterListStore
	invalidator CacheInvalidator
	clk         clock.Clock
	log         blog.Logger
	scope       metrics.Scope
	sequence    int
}

// MasterListStore records container provenance rows (Master Lists and
// Deviation Lists) separate from the certificates they contribute.
type MasterListStore interface {
	InsertMasterList(ctx context.Context, ml core.MasterList) error
	InsertDeviationList(ctx context.Context, dl core.DeviationList) error
}

// CacheInvalidator is the narrow slice of core.TrustChainValidator the
// pipeline needs: a signal that the CSCA cache has gone stale. Kept narrow
// rather than depending on core.TrustChainValidator directly so the
// pipeline doesn't need a validator to run at all (tests construct a
// Pipeline with a nil CacheInvalidator).
type CacheInvalidator interface {
	InvalidateCache()
}

// NewPipeline constructs a Pipeline. invalidator is told to drop its CSCA
// cache whenever a new CSCA is inserted, so a root added mid-run is
// available to validate DSCs chained under it later in the same process
// (spec §4.5 CSCA cache); it may be nil, in which case cache invalidation
// is the caller's problem.
func NewPipeline(certs core.CertificateRepository, crls core.CrlRepository, dir core.DirectoryWriter, events core.EventPublisher, audit core.UploadStore, containers MasterListStore, invalidator CacheInvalidator, clk clock.Clock, logger blog.Logger, scope metrics.Scope) *Pipeline {
	return &Pipeline{certs: certs, crls: crls, dir: dir, events: events, audit: audit, containers: containers, invalidator: invalidator, clk: clk, log: logger, scope: scope}
}

// EntryOutcome is what the top-level ingester needs to know about one
// processed entry: whether a certificate worth queuing for validation
// (DSC/DSC_NC) was inserted, and aggregate counters for the Upload row.
type EntryOutcome struct {
	Inserted   bool
	Duplicate  bool
	CertType   core.CertificateType
	Certificate core.Certificate
}

// IngestCertificate runs the pipeline for one decoded certificate. entryDN
// is the owning LDIF entry's DN, or "" when the certificate came from a
// Master List. wasMlscSigner is true when this certificate was a CMS
// SignerInfo for the Master List it was extracted from.
func (p *Pipeline) IngestCertificate(ctx context.Context, uploadID string, der []byte, entryDN string, wasMlscSigner bool) (EntryOutcome, error) {
	p.emit(uploadID, core.EventParsingInProgress, "decoding certificate", core.StatusInfo)

	info, err := decode.ParseX509(der)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return EntryOutcome{}, err
	}

	certType := classifyCert(info, wasMlscSigner, entryDN)
	countryCode := resolveCountryCode(info)
	fingerprint := decode.Fingerprint(der)

	cert := core.Certificate{
		Type:                   certType,
		Fingerprint:            fingerprint,
		CountryCode:            countryCode,
		SubjectDN:              info.SubjectDN,
		IssuerDN:               info.IssuerDN,
		NormalizedSubjectDN:    decode.NormalizeDN(info.SubjectDN),
		NormalizedIssuerDN:     decode.NormalizeDN(info.IssuerDN),
		SerialNumber:           info.SerialNumber,
		NotBefore:              info.NotBefore,
		NotAfter:               info.NotAfter,
		SignatureAlgorithm:     info.SignatureAlgorithm,
		PublicKeyAlgorithm:     info.PublicKeyAlgorithm,
		PublicKeySize:          info.PublicKeySize,
		PublicKeyCurve:         info.PublicKeyCurve,
		KeyUsage:               info.KeyUsage,
		ExtendedKeyUsage:       info.ExtendedKeyUsage,
		IsCA:                   info.IsCA,
		PathLenConstraint:      info.PathLenConstraint,
		SubjectKeyIdentifier:   info.SubjectKeyIdentifier,
		AuthorityKeyIdentifier: info.AuthorityKeyIdentifier,
		CRLDistributionPoints:  info.CRLDistributionPoints,
		OCSPResponderURL:       info.OCSPResponderURL,
		IsSelfSigned:           info.IsSelfSigned,
		DER:                    der,
		ContributingUploadID:   uploadID,
		CreatedAt:              p.clk.Now(),
	}

	p.emit(uploadID, core.EventDBSavingInProgress, "saving certificate", core.StatusInfo)
	insertion, err := p.certs.Upsert(ctx, cert)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return EntryOutcome{}, err
	}
	cert.ID = insertion.ID

	if !insertion.Inserted {
		p.scope.Inc("certificates_duplicate."+string(certType), 1)
		p.emit(uploadID, core.EventDuplicateDetected, "duplicate fingerprint "+fingerprint, core.StatusWarning)
		return EntryOutcome{Inserted: false, Duplicate: true, CertType: certType, Certificate: cert}, nil
	}
	p.scope.Inc("certificates_ingested."+string(certType), 1)
	p.emit(uploadID, core.EventDBSavingCompleted, "certificate saved", core.StatusSuccess)

	if certType == core.CSCA && p.invalidator != nil {
		p.invalidator.InvalidateCache()
	}

	if err := p.mirrorCertificate(ctx, uploadID, cert); err != nil {
		p.scope.Inc("directory_write_failures", 1)
		p.log.WarningErr(err)
	}

	p.auditEntry(ctx, uploadID, core.EventDBSavingCompleted, "inserted "+string(certType)+" "+fingerprint, core.StatusSuccess)

	return EntryOutcome{Inserted: true, CertType: certType, Certificate: cert}, nil
}

func (p *Pipeline) mirrorCertificate(ctx context.Context, uploadID string, cert core.Certificate) error {
	if err := p.dir.EnsureContainer(ctx, cert.Type, cert.CountryCode); err != nil {
		return pkderrors.DirectoryWrite("ensure container: %v", err)
	}
	dn, err := p.dir.WriteCertificate(ctx, cert.Type, cert.CountryCode, cert.Fingerprint, cert.SubjectDN, cert.SerialNumber, cert.DER)
	if err != nil {
		return pkderrors.DirectoryWrite("write certificate: %v", err)
	}
	if err := p.certs.MarkStoredInDirectory(ctx, cert.ID, dn); err != nil {
		return err
	}
	p.emit(uploadID, core.EventLDAPSavingCompleted, "mirrored to "+dn, core.StatusSuccess)
	return nil
}

// IngestCRL runs the pipeline for one decoded CRL.
func (p *Pipeline) IngestCRL(ctx context.Context, uploadID string, der []byte) (EntryOutcome, error) {
	p.emit(uploadID, core.EventParsingInProgress, "decoding crl", core.StatusInfo)

	info, err := decode.ParseCRL(der)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return EntryOutcome{}, err
	}

	fingerprint := decode.Fingerprint(der)
	countryCode := decode.ExtractCountry(info.IssuerDN)

	crl := core.Crl{
		IssuerDN:             info.IssuerDN,
		NormalizedIssuerDN:   decode.NormalizeDN(info.IssuerDN),
		ThisUpdate:           info.ThisUpdate,
		CrlNumber:            nonEmptyPtr(info.CRLNumber),
		Fingerprint:          fingerprint,
		CountryCode:          countryCode,
		DER:                  der,
		ContributingUploadID: uploadID,
		CreatedAt:            p.clk.Now(),
	}
	if !info.NextUpdate.IsZero() {
		nu := info.NextUpdate
		crl.NextUpdate = &nu
	}

	insertion, err := p.crls.Upsert(ctx, crl)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return EntryOutcome{}, err
	}
	crl.ID = insertion.ID

	if !insertion.Inserted {
		p.scope.Inc("crls_duplicate", 1)
		p.emit(uploadID, core.EventDuplicateDetected, "duplicate crl "+fingerprint, core.StatusWarning)
		return EntryOutcome{Inserted: false, Duplicate: true}, nil
	}
	p.scope.Inc("crls_ingested", 1)
	p.emit(uploadID, core.EventDBSavingCompleted, "crl saved", core.StatusSuccess)

	if err := p.mirrorCRL(ctx, uploadID, crl); err != nil {
		p.scope.Inc("directory_write_failures", 1)
		p.log.WarningErr(err)
	}

	return EntryOutcome{Inserted: true}, nil
}

func (p *Pipeline) mirrorCRL(ctx context.Context, uploadID string, crl core.Crl) error {
	if err := p.dir.EnsureContainer(ctx, core.CSCA, crl.CountryCode); err != nil {
		return pkderrors.DirectoryWrite("ensure container: %v", err)
	}
	dn, err := p.dir.WriteCrl(ctx, crl.CountryCode, crl.Fingerprint, crl.IssuerDN, crl.DER)
	if err != nil {
		return pkderrors.DirectoryWrite("write crl: %v", err)
	}
	if err := p.crls.MarkStoredInDirectory(ctx, crl.ID, dn); err != nil {
		return err
	}
	p.emit(uploadID, core.EventLDAPSavingCompleted, "mirrored to "+dn, core.StatusSuccess)
	return nil
}

func (p *Pipeline) emit(uploadID, eventName, detail, status string) {
	if p.events == nil {
		return
	}
	p.events.Publish(core.Event{
		UploadID:  uploadID,
		Timestamp: p.clk.Now(),
		EventName: eventName,
		Detail:    detail,
		Status:    status,
	})
}

// auditEntry persists a durable per-entry audit row in addition to the
// live event (spec §4.4 step 8, §12 supplemented feature).
func (p *Pipeline) auditEntry(ctx context.Context, uploadID, eventName, detail, status string) {
	if p.audit == nil {
		return
	}
	p.sequence++
	if err := p.audit.AppendAudit(ctx, core.UploadEntryAudit{
		UploadID:  uploadID,
		Sequence:  p.sequence,
		EventName: eventName,
		Detail:    detail,
		Status:    status,
		Timestamp: p.clk.Now(),
	}); err != nil {
		p.log.WarningErr(err)
	}
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
