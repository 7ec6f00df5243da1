package ingest

import (
	"bytes"
	"context"
	"strings"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
)

// certAttrs are the LDIF attribute names that carry a DER certificate
// (spec §4.4 step 1).
var certAttrs = []string{"userCertificate", "cACertificate"}

// cmsObjectClass marks an entry as carrying an embedded Master List (spec
// §4.4: "object class icaoPkdCmsObject or similar CMS-bearing attribute").
const cmsObjectClass = "icaoPkdCmsObject"

// cmsAttr is the attribute name holding the embedded CMS SignedData blob
// when an entry is a Master List container.
const cmsAttr = "CscaMasterListData"

// Result aggregates one LDIF ingestion's outcome for the Upload row.
type Result struct {
	TotalEntries          int
	SuccessfulCount       int
	ErrorCount            int
	DuplicateCount        int
	CountsByType          map[string]int
	DuplicateCountsByType map[string]int
	// PendingValidation holds every DSC/DSC_NC inserted during this
	// ingestion, to be validated in one batch after the file finishes
	// (spec §4.4 Progress reporting, §5 Scheduling model).
	PendingValidation []core.Certificate
}

func newResult() *Result {
	return &Result{
		CountsByType:          map[string]int{},
		DuplicateCountsByType: map[string]int{},
	}
}

func (r *Result) record(outcome EntryOutcome) {
	if outcome.Duplicate {
		r.DuplicateCount++
		r.DuplicateCountsByType[string(outcome.CertType)]++
		return
	}
	if outcome.Inserted {
		r.SuccessfulCount++
		r.CountsByType[string(outcome.CertType)]++
		if outcome.CertType == core.DSC || outcome.CertType == core.DSCNC {
			r.PendingValidation = append(r.PendingValidation, outcome.Certificate)
		}
	}
}

// ProcessLDIF implements spec §4.4's processLdif. It streams entries,
// routing each to a certificate, CRL, or embedded Master List handler.
// An entry with a dn: but no recognized attribute is counted and skipped,
// not treated as an error (spec §8).
func (p *Pipeline) ProcessLDIF(ctx context.Context, uploadID string, data []byte) (*Result, error) {
	result := newResult()

	err := decode.StreamLDIF(bytes.NewReader(data), func(entry decode.LdifEntry) error {
		result.TotalEntries++

		if isMasterListEntry(entry) {
			mlResult, err := p.processMasterListEntry(ctx, uploadID, entry)
			if err != nil {
				result.ErrorCount++
				return nil
			}
			mergeResults(result, mlResult)
			return nil
		}

		for _, attr := range certAttrs {
			for _, v := range entry.Values(attr) {
				outcome, err := p.IngestCertificate(ctx, uploadID, v.Value, entry.DN, false)
				if err != nil {
					result.ErrorCount++
					continue
				}
				result.record(outcome)
			}
		}
		for _, v := range entry.Values("certificateRevocationList") {
			outcome, err := p.IngestCRL(ctx, uploadID, v.Value)
			if err != nil {
				result.ErrorCount++
				continue
			}
			result.record(outcome)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	p.emit(uploadID, core.EventParsingCompleted, "ldif parsing complete", core.StatusSuccess)
	return result, nil
}

func isMasterListEntry(entry decode.LdifEntry) bool {
	for _, v := range entry.Values("objectClass") {
		if strings.EqualFold(string(v.Value), cmsObjectClass) {
			return true
		}
	}
	return len(entry.Values(cmsAttr)) > 0
}

func (p *Pipeline) processMasterListEntry(ctx context.Context, uploadID string, entry decode.LdifEntry) (*Result, error) {
	values := entry.Values(cmsAttr)
	if len(values) == 0 {
		return newResult(), nil
	}
	return p.ProcessMasterList(ctx, uploadID, values[0].Value)
}

func mergeResults(dst, src *Result) {
	dst.SuccessfulCount += src.SuccessfulCount
	dst.ErrorCount += src.ErrorCount
	dst.DuplicateCount += src.DuplicateCount
	for k, v := range src.CountsByType {
		dst.CountsByType[k] += v
	}
	for k, v := range src.DuplicateCountsByType {
		dst.DuplicateCountsByType[k] += v
	}
	dst.PendingValidation = append(dst.PendingValidation, src.PendingValidation...)
}
