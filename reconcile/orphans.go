package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
)

// orphanScope lists the (certType, countryCode) pairs DeleteOrphans
// inspects: every type in DefaultScope (never DSC_NC, spec §4.6 policy),
// across every country the repository currently knows about for that
// type. A country whose last certificate of a type was deleted from the
// repository without a replacement of the same type stops being scanned;
// that gap is recorded in DESIGN.md as an accepted limitation of
// CertificateRepository.CountByCountry being the only country-enumeration
// primitive available.
func (e *Engine) orphanScope(ctx context.Context, certType core.CertificateType) ([]string, error) {
	counts, err := e.certs.CountByCountry(ctx, certType)
	if err != nil {
		return nil, err
	}
	countries := make([]string, 0, len(counts))
	for _, c := range counts {
		countries = append(countries, c.CountryCode)
	}
	return countries, nil
}

// DeleteOrphans implements the deletion half of spec §4.6's step 4
// *_deleted counters (named in §12 "Reconciliation deletion path" since
// §4.6's written flow only covers additions): it finds directory leaves
// whose fingerprint has no matching repository row and removes them.
func (e *Engine) DeleteOrphans(ctx context.Context, opts Options) (*core.ReconciliationSummary, error) {
	if !e.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.mu.Unlock()

	scope := opts.Scope
	if len(scope) == 0 {
		scope = DefaultScope
	}
	scope = withoutDscNc(scope)

	summary := &core.ReconciliationSummary{
		ID:        uuid.NewString(),
		StartedAt: e.clk.Now(),
		DryRun:    opts.DryRun,
	}

	for _, certType := range scope {
		deleted, err := e.deleteOrphansForType(ctx, summary, certType, opts.DryRun)
		if err != nil {
			e.log.WarningErr(err)
		}
		switch certType {
		case core.CSCA:
			summary.CscaDeleted += deleted
		case core.DSC:
			summary.DscDeleted += deleted
		}
	}

	if opts.IncludeCRLs {
		deleted, err := e.deleteOrphanCrls(ctx, summary, opts.DryRun)
		if err != nil {
			e.log.WarningErr(err)
		}
		summary.CrlDeleted += deleted
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

func (e *Engine) deleteOrphansForType(ctx context.Context, summary *core.ReconciliationSummary, certType core.CertificateType, dryRun bool) (int, error) {
	countries, err := e.orphanScope(ctx, certType)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, countryCode := range countries {
		leaves, err := e.dir.ListLeaves(ctx, certType, countryCode)
		if err != nil {
			e.log.WarningErr(err)
			continue
		}
		for _, leaf := range leaves {
			start := e.clk.Now()
			_, found, err := e.certs.FindByFingerprint(ctx, certType, leaf.Fingerprint)
			if err != nil {
				summary.TotalProcessed++
				e.recordFailure(ctx, summary, core.OpDelete, certType, countryCode, leaf.DN, leaf.Fingerprint, start, err)
				continue
			}
			if found {
				continue
			}

			summary.TotalProcessed++
			if dryRun {
				e.recordSuccess(ctx, summary, core.OpDelete, certType, countryCode, leaf.DN, leaf.Fingerprint, start)
				deleted++
				continue
			}
			if err := e.dir.DeleteLeaf(ctx, leaf.DN); err != nil {
				e.recordFailure(ctx, summary, core.OpDelete, certType, countryCode, leaf.DN, leaf.Fingerprint, start, err)
				continue
			}
			e.recordSuccess(ctx, summary, core.OpDelete, certType, countryCode, leaf.DN, leaf.Fingerprint, start)
			deleted++
		}
	}
	return deleted, nil
}

func (e *Engine) deleteOrphanCrls(ctx context.Context, summary *core.ReconciliationSummary, dryRun bool) (int, error) {
	counts, err := e.crls.CountByCountry(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, c := range counts {
		leaves, err := e.dir.ListCrlLeaves(ctx, c.CountryCode)
		if err != nil {
			e.log.WarningErr(err)
			continue
		}
		for _, leaf := range leaves {
			start := e.clk.Now()
			_, found, err := e.crls.FindByFingerprint(ctx, leaf.Fingerprint)
			if err != nil {
				summary.TotalProcessed++
				e.recordFailure(ctx, summary, core.OpDelete, "CRL", c.CountryCode, leaf.DN, leaf.Fingerprint, start, err)
				continue
			}
			if found {
				continue
			}

			summary.TotalProcessed++
			if dryRun {
				e.recordSuccess(ctx, summary, core.OpDelete, "CRL", c.CountryCode, leaf.DN, leaf.Fingerprint, start)
				deleted++
				continue
			}
			if err := e.dir.DeleteLeaf(ctx, leaf.DN); err != nil {
				e.recordFailure(ctx, summary, core.OpDelete, "CRL", c.CountryCode, leaf.DN, leaf.Fingerprint, start, err)
				continue
			}
			e.recordSuccess(ctx, summary, core.OpDelete, "CRL", c.CountryCode, leaf.DN, leaf.Fingerprint, start)
			deleted++
		}
	}
	return deleted, nil
}
