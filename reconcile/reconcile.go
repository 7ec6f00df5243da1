// Package reconcile implements spec §4.6's reconciliation engine: it
// diffs the relational repository against the LDAP directory per
// certificate type, repairs additions the directory is missing, and
// removes directory leaves the repository no longer recognizes. A
// single mutex-guarded run tolerates per-item failures and persists a
// summary row at the end.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/icao-pkd/localpkd-core/core"
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// DefaultScope is the certificate-type scope a run uses when Options.Scope
// is empty: CSCA and DSC. CRLs are reconciled only when
// Options.IncludeCRLs is set; they are not part of this default.
// DSC_NC is excluded by policy and must never appear here.
var DefaultScope = []core.CertificateType{core.CSCA, core.DSC}

// Options configures one reconciliation run.
type Options struct {
	DryRun bool
	// Scope restricts which certificate types are diffed. Empty means
	// DefaultScope. DSC_NC is silently dropped if present; spec §4.6
	// "scope excludes DSC_NC by policy" is a hard rule, not a default.
	Scope []core.CertificateType
	// IncludeCRLs adds the CRL type to the run, kept as its own flag
	// since CrlRepository is a structurally separate interface from
	// CertificateRepository.
	IncludeCRLs bool
}

// Engine implements spec §4.6. One Engine is shared by every trigger
// (scheduled, operator-initiated); its mutex enforces "at most one
// reconciliation at a time" and scheduled triggers arriving mid-run are
// expected to coalesce by the caller not invoking Run again until this
// one returns.
type Engine struct {
	certs core.CertificateRepository
	crls  core.CrlRepository
	dir   core.DirectoryWriter
	store core.ReconciliationStore
	clk   clock.Clock
	log   blog.Logger
	scope metrics.Scope

	mu      sync.Mutex
	running bool
}

// New constructs an Engine.
func New(certs core.CertificateRepository, crls core.CrlRepository, dir core.DirectoryWriter, store core.ReconciliationStore, clk clock.Clock, logger blog.Logger, scope metrics.Scope) *Engine {
	return &Engine{certs: certs, crls: crls, dir: dir, store: store, clk: clk, log: logger, scope: scope}
}

// Run executes one reconciliation pass. It returns ErrAlreadyRunning
// immediately, without blocking, if another run is in progress; spec §4.6
// Concurrency says scheduled triggers coalesce, which this turns into "the
// caller's scheduler should not fire a second Run, and if it does, this
// one loses rather than queuing."
func (e *Engine) Run(ctx context.Context, opts Options) (*core.ReconciliationSummary, error) {
	if !e.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.mu.Unlock()

	scope := opts.Scope
	if len(scope) == 0 {
		scope = DefaultScope
	}
	scope = withoutDscNc(scope)

	if _, err := e.SnapshotSyncStatus(ctx); err != nil {
		e.log.WarningErr(err)
	}

	summary := &core.ReconciliationSummary{
		ID:        uuid.NewString(),
		StartedAt: e.clk.Now(),
		DryRun:    opts.DryRun,
	}

	for _, certType := range scope {
		added, err := e.reconcileType(ctx, summary, certType, opts.DryRun)
		if err != nil {
			e.log.WarningErr(err)
		}
		switch certType {
		case core.CSCA:
			summary.CscaAdded += added
		case core.DSC:
			summary.DscAdded += added
		case core.DSCNC:
			summary.DscNcAdded += added
		}
	}

	if opts.IncludeCRLs {
		added, err := e.reconcileCRLs(ctx, summary, opts.DryRun)
		if err != nil {
			e.log.WarningErr(err)
		}
		summary.CrlAdded += added
	}

	now := e.clk.Now()
	summary.CompletedAt = &now
	summary.DurationMs = now.Sub(summary.StartedAt).Milliseconds()
	summary.Status = finalStatus(summary)

	if e.store != nil {
		if err := e.store.SaveSummary(ctx, summary); err != nil {
			e.log.WarningErr(err)
		}
	}

	return summary, nil
}

// ErrAlreadyRunning is returned by Run when another reconciliation is in
// progress.
var ErrAlreadyRunning = fmt.Errorf("reconcile: a run is already in progress")

func withoutDscNc(scope []core.CertificateType) []core.CertificateType {
	out := make([]core.CertificateType, 0, len(scope))
	for _, t := range scope {
		if t != core.DSCNC {
			out = append(out, t)
		}
	}
	return out
}

// reconcileType runs spec §4.6 steps 2-3 for one certificate type:
// findMissingInDirectory, then ensureContainer + writeCertificate +
// markStoredInDirectory for each, in ascending insertion order (spec §4.6
// Ordering/tie-breaks). It returns the number of certificates actually (or,
// in dry-run mode, notionally) added.
func (e *Engine) reconcileType(ctx context.Context, summary *core.ReconciliationSummary, certType core.CertificateType, dryRun bool) (int, error) {
	missing, err := e.certs.FindMissingInDirectory(ctx, certType)
	if err != nil {
		return 0, fmt.Errorf("reconcile: find missing %s: %w", certType, err)
	}
	sortByCreatedAt(missing)

	added := 0
	for _, cert := range missing {
		start := e.clk.Now()
		summary.TotalProcessed++

		exists, err := e.entryAlreadyExists(ctx, cert)
		if err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start, err)
			continue
		}
		if exists {
			// Directory already has it; just catch up the repository flag.
			if !dryRun {
				if err := e.certs.MarkStoredInDirectory(ctx, cert.ID, cert.DirectoryDN); err != nil {
					e.recordFailure(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start, err)
					continue
				}
			}
			e.recordSuccess(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start)
			added++
			continue
		}

		if dryRun {
			e.recordSuccess(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start)
			added++
			continue
		}

		if err := e.dir.EnsureContainer(ctx, certType, cert.CountryCode); err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start, err)
			continue
		}
		dn, err := e.dir.WriteCertificate(ctx, certType, cert.CountryCode, cert.Fingerprint, cert.SubjectDN, cert.SerialNumber, cert.DER)
		if err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start, err)
			continue
		}
		if err := e.certs.MarkStoredInDirectory(ctx, cert.ID, dn); err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start, err)
			continue
		}

		e.recordSuccess(ctx, summary, core.OpAdd, certType, cert.CountryCode, cert.SubjectDN, cert.Fingerprint, start)
		added++
	}
	return added, nil
}

func (e *Engine) reconcileCRLs(ctx context.Context, summary *core.ReconciliationSummary, dryRun bool) (int, error) {
	missing, err := e.crls.FindMissingInDirectory(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: find missing crls: %w", err)
	}
	sortCrlsByCreatedAt(missing)

	added := 0
	for _, crl := range missing {
		start := e.clk.Now()
		summary.TotalProcessed++

		exists := false
		if crl.DirectoryDN != "" {
			exists, err = e.dir.Exists(ctx, crl.DirectoryDN)
			if err != nil {
				e.recordFailure(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start, err)
				continue
			}
		}

		if dryRun {
			e.recordSuccess(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start)
			added++
			continue
		}

		if exists {
			if err := e.crls.MarkStoredInDirectory(ctx, crl.ID, crl.DirectoryDN); err != nil {
				e.recordFailure(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start, err)
				continue
			}
			e.recordSuccess(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start)
			added++
			continue
		}

		if err := e.dir.EnsureContainer(ctx, core.CSCA, crl.CountryCode); err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start, err)
			continue
		}
		dn, err := e.dir.WriteCrl(ctx, crl.CountryCode, crl.Fingerprint, crl.IssuerDN, crl.DER)
		if err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start, err)
			continue
		}
		if err := e.crls.MarkStoredInDirectory(ctx, crl.ID, dn); err != nil {
			e.recordFailure(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start, err)
			continue
		}
		e.recordSuccess(ctx, summary, core.OpAdd, "CRL", crl.CountryCode, crl.IssuerDN, crl.Fingerprint, start)
		added++
	}
	return added, nil
}

func (e *Engine) entryAlreadyExists(ctx context.Context, cert core.Certificate) (bool, error) {
	if cert.DirectoryDN == "" {
		return false, nil
	}
	return e.dir.Exists(ctx, cert.DirectoryDN)
}

func (e *Engine) recordSuccess(ctx context.Context, summary *core.ReconciliationSummary, op core.ReconciliationOp, certType core.CertificateType, countryCode, subject, fingerprint string, start time.Time) {
	summary.SuccessCount++
	e.scope.Inc("reconciliation_adds."+string(certType), 1)
	e.saveLog(ctx, core.ReconciliationLog{
		SummaryID:   summary.ID,
		Operation:   op,
		CertType:    certType,
		CountryCode: countryCode,
		Subject:     subject,
		Fingerprint: fingerprint,
		Status:      core.OpSuccess,
		DurationMs:  e.clk.Now().Sub(start).Milliseconds(),
		CreatedAt:   e.clk.Now(),
	})
}

func (e *Engine) recordFailure(ctx context.Context, summary *core.ReconciliationSummary, op core.ReconciliationOp, certType core.CertificateType, countryCode, subject, fingerprint string, start time.Time, cause error) {
	summary.FailedCount++
	e.scope.Inc("reconciliation_failures."+string(certType), 1)
	e.saveLog(ctx, core.ReconciliationLog{
		SummaryID:    summary.ID,
		Operation:    op,
		CertType:     certType,
		CountryCode:  countryCode,
		Subject:      subject,
		Fingerprint:  fingerprint,
		Status:       core.OpFailed,
		DurationMs:   e.clk.Now().Sub(start).Milliseconds(),
		ErrorMessage: cause.Error(),
		CreatedAt:    e.clk.Now(),
	})
}

func (e *Engine) saveLog(ctx context.Context, entry core.ReconciliationLog) {
	if e.store == nil {
		return
	}
	entry.ID = uuid.NewString()
	if err := e.store.SaveLog(ctx, entry); err != nil {
		e.log.WarningErr(err)
	}
}

func finalStatus(summary *core.ReconciliationSummary) core.RunStatus {
	if summary.FailedCount == 0 {
		return core.RunCompleted
	}
	if summary.FailedCount > 0 && summary.FailedCount < summary.TotalProcessed {
		return core.RunPartial
	}
	return core.RunFailed
}

func sortByCreatedAt(certs []core.Certificate) {
	sort.Slice(certs, func(i, j int) bool { return certs[i].CreatedAt.Before(certs[j].CreatedAt) })
}

func sortCrlsByCreatedAt(crls []core.Crl) {
	sort.Slice(crls, func(i, j int) bool { return crls[i].CreatedAt.Before(crls[j].CreatedAt) })
}
