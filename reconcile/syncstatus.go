package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
)

// snapshotTypes are the certificate types SnapshotSyncStatus counts.
// DSC_NC is included here (unlike the reconciliation scope) since a sync
// snapshot is a read-only report, not a write policy.
var snapshotTypes = []core.CertificateType{core.CSCA, core.DSC, core.DSCNC, core.MLSC}

// SnapshotSyncStatus implements the named-but-operationless SyncStatus
// entity from spec §3 (supplemented per §12): it counts every type in
// both stores and records the discrepancy. Run calls it before its pass,
// and pkd-ingestd's reconciliation loop calls it again after each run.
func (e *Engine) SnapshotSyncStatus(ctx context.Context) (*core.SyncStatus, error) {
	repoCounts := map[string]int{}
	dirCounts := map[string]int{}
	discrepancy := map[string]int{}

	for _, certType := range snapshotTypes {
		counts, err := e.certs.CountByCountry(ctx, certType)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, c := range counts {
			total += c.Count
		}
		repoCounts[string(certType)] = total

		dirTotal := 0
		for _, c := range counts {
			leaves, err := e.dir.ListLeaves(ctx, certType, c.CountryCode)
			if err != nil {
				e.log.WarningErr(err)
				continue
			}
			dirTotal += len(leaves)
		}
		dirCounts[string(certType)] = dirTotal
		discrepancy[string(certType)] = total - dirTotal
	}

	crlCounts, err := e.crls.CountByCountry(ctx)
	if err != nil {
		return nil, err
	}
	crlRepoTotal := 0
	crlDirTotal := 0
	for _, c := range crlCounts {
		crlRepoTotal += c.Count
		leaves, err := e.dir.ListCrlLeaves(ctx, c.CountryCode)
		if err != nil {
			e.log.WarningErr(err)
			continue
		}
		crlDirTotal += len(leaves)
	}
	repoCounts["CRL"] = crlRepoTotal
	dirCounts["CRL"] = crlDirTotal
	discrepancy["CRL"] = crlRepoTotal - crlDirTotal

	status := &core.SyncStatus{
		ID:               uuid.NewString(),
		CapturedAt:       e.clk.Now(),
		RepositoryCounts: repoCounts,
		DirectoryCounts:  dirCounts,
		Discrepancy:      discrepancy,
	}
	if e.store != nil {
		if err := e.store.SaveSyncStatus(ctx, *status); err != nil {
			e.log.WarningErr(err)
		}
	}
	return status, nil
}
