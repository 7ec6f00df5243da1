// Package upload implements spec §4.7's upload orchestrator: hash-dedupe
// against prior uploads, background processing handoff, and the timeout
// supervisor that keeps a stalled upload from sitting in PROCESSING
// forever. Each accepted upload gets its own goroutine for processing,
// and the timeout sweep runs on a single ticker-driven loop alongside it.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/jmhodges/clock"

	"github.com/icao-pkd/localpkd-core/core"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
	"github.com/icao-pkd/localpkd-core/ingest"
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

// DefaultTimeout is UPLOAD_TIMEOUT_MS's default, spec §6.
const DefaultTimeout = 30 * time.Minute

// Result is what uploadFile's contract returns to the caller, spec §4.7.
type Result struct {
	UploadID     string
	Deduplicated bool
}

// Orchestrator implements spec §4.7. One Orchestrator is constructed per
// process and shared by every upload request.
type Orchestrator struct {
	uploads core.UploadStore
	certs   core.CertificateRepository
	events  core.EventPublisher
	val     core.TrustChainValidator
	results core.ValidationResultStore
	pipe    *ingest.Pipeline
	clk     clock.Clock
	log     blog.Logger
	scope   metrics.Scope
	timeout time.Duration
}

// New constructs an Orchestrator. timeout of 0 uses DefaultTimeout.
func New(uploads core.UploadStore, certs core.CertificateRepository, events core.EventPublisher, val core.TrustChainValidator, results core.ValidationResultStore, pipe *ingest.Pipeline, clk clock.Clock, logger blog.Logger, scope metrics.Scope, timeout time.Duration) *Orchestrator {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{uploads: uploads, certs: certs, events: events, val: val, results: results, pipe: pipe, clk: clk, log: logger, scope: scope, timeout: timeout}
}

// UploadFile implements the uploadFile(fileName, fileBytes, format)
// contract: hash, dedupe, persist, and hand off to a background goroutine.
// It returns as soon as the Upload row exists in PROCESSING, never waiting
// for ingestion to finish.
func (o *Orchestrator) UploadFile(ctx context.Context, fileName string, fileBytes []byte, format core.UploadFormat) (Result, error) {
	sum := sha256.Sum256(fileBytes)
	hash := hex.EncodeToString(sum[:])

	if existing, found, err := o.uploads.FindByHash(ctx, hash); err != nil {
		return Result{}, err
	} else if found {
		return Result{UploadID: existing.ID, Deduplicated: true}, nil
	}

	up := &core.Upload{
		FileName: fileName,
		FileHash: hash,
		FileSize: int64(len(fileBytes)),
		Format:   format,
		Status:   core.StatusProcessing,
	}
	if err := o.uploads.Create(ctx, up); err != nil {
		return Result{}, err
	}

	go o.process(up.ID, fileBytes, format)

	return Result{UploadID: up.ID}, nil
}

// process runs on its own goroutine, one per upload (spec §5 Scheduling
// model). It never returns an error to a caller; failures are recorded on
// the Upload row itself.
func (o *Orchestrator) process(uploadID string, fileBytes []byte, format core.UploadFormat) {
	ctx := context.Background()

	var result *ingest.Result
	var singleErr error

	switch format {
	case core.FormatLDIF:
		result, singleErr = o.pipe.ProcessLDIF(ctx, uploadID, fileBytes)
	case core.FormatML:
		result, singleErr = o.pipe.ProcessMasterList(ctx, uploadID, fileBytes)
	case core.FormatCert:
		result = &ingest.Result{}
		outcome, err := o.pipe.IngestCertificate(ctx, uploadID, fileBytes, "", false)
		if err != nil {
			singleErr = err
		} else {
			record(result, outcome)
		}
	case core.FormatCRL:
		result = &ingest.Result{}
		outcome, err := o.pipe.IngestCRL(ctx, uploadID, fileBytes)
		if err != nil {
			singleErr = err
		} else {
			record(result, outcome)
		}
	case core.FormatDL:
		result = &ingest.Result{}
		singleErr = o.pipe.ProcessDeviationList(ctx, uploadID, fileBytes)
	default:
		singleErr = pkderrors.FatalIngest("unrecognized upload format %q", format)
	}

	if singleErr != nil && result == nil {
		o.fail(ctx, uploadID, singleErr)
		return
	}

	o.validatePending(ctx, uploadID, result)
	o.complete(ctx, uploadID, result)
}

func record(r *ingest.Result, outcome ingest.EntryOutcome) {
	r.TotalEntries++
	if outcome.Duplicate {
		r.DuplicateCount++
		return
	}
	if outcome.Inserted {
		r.SuccessfulCount++
	}
	if outcome.CertType == core.DSC || outcome.CertType == core.DSCNC {
		r.PendingValidation = append(r.PendingValidation, outcome.Certificate)
	}
}

// validatePending batches newly-inserted DSC/DSC_NC certificates through
// the trust chain validator after bulk ingestion finishes, so the CSCA
// cache stays warm across the whole batch (spec §4.4 Progress reporting,
// §5 Scheduling model).
func (o *Orchestrator) validatePending(ctx context.Context, uploadID string, result *ingest.Result) {
	if result == nil || len(result.PendingValidation) == 0 || o.val == nil {
		return
	}
	o.publish(uploadID, core.EventValidationProgress, "validating batch of "+strconv.Itoa(len(result.PendingValidation)), core.StatusInfo)
	results, err := o.val.ValidateBatch(ctx, result.PendingValidation)
	if err != nil {
		o.log.WarningErr(err)
		return
	}
	if o.results == nil {
		return
	}
	for _, r := range results {
		o.scope.Inc("validation_outcomes."+string(r.ValidationStatus), 1)
		if err := o.results.Put(ctx, r); err != nil {
			o.log.WarningErr(err)
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, uploadID string, result *ingest.Result) {
	up, found, err := o.uploads.Get(ctx, uploadID)
	if err != nil || !found {
		o.log.Err("upload orchestrator: cannot load upload " + uploadID + " to complete it")
		return
	}
	now := o.clk.Now()
	up.Status = core.StatusCompleted
	up.CompletedAt = &now
	if result != nil {
		up.TotalEntries = result.TotalEntries
		up.SuccessfulCount = result.SuccessfulCount
		up.ErrorCount = result.ErrorCount
		up.DuplicateCount = result.DuplicateCount
		up.CountsByType = result.CountsByType
		up.DuplicateCountsByType = result.DuplicateCountsByType
	}
	if err := o.uploads.Update(ctx, up); err != nil {
		o.log.WarningErr(err)
	}
	o.scope.Inc("uploads_completed", 1)
	o.publish(uploadID, core.EventUploadCompleted, "upload complete", core.StatusSuccess)
}

func (o *Orchestrator) fail(ctx context.Context, uploadID string, cause error) {
	up, found, err := o.uploads.Get(ctx, uploadID)
	if err != nil || !found {
		o.log.Err("upload orchestrator: cannot load upload " + uploadID + " to fail it")
		return
	}
	now := o.clk.Now()
	up.Status = core.StatusFailed
	up.CompletedAt = &now
	up.FailureReason = cause.Error()
	if err := o.uploads.Update(ctx, up); err != nil {
		o.log.WarningErr(err)
	}
	o.scope.Inc("uploads_failed", 1)
	o.publish(uploadID, core.EventUploadFailed, cause.Error(), core.StatusFail)
}

func (o *Orchestrator) publish(uploadID, eventName, detail, status string) {
	if o.events == nil {
		return
	}
	o.events.Publish(core.Event{
		UploadID:  uploadID,
		Timestamp: o.clk.Now(),
		EventName: eventName,
		Detail:    detail,
		Status:    status,
	})
}

// SweepStale transitions any upload stuck in PROCESSING past the
// configured timeout to FAILED, spec §5 Cancellation/timeout. Its
// repository inserts up to that point remain authoritative; only the
// Upload row's status changes.
func (o *Orchestrator) SweepStale(ctx context.Context) error {
	cutoff := o.clk.Now().Add(-o.timeout)
	stale, err := o.uploads.FindStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, up := range stale {
		row := up
		o.fail(ctx, row.ID, pkderrors.FatalIngest("upload timed out after %s", o.timeout))
	}
	return nil
}

// RunTimeoutSupervisor runs SweepStale on interval until ctx is canceled:
// once immediately, then sleep-and-repeat on its own goroutine.
func (o *Orchestrator) RunTimeoutSupervisor(ctx context.Context, interval time.Duration) {
	if err := o.SweepStale(ctx); err != nil {
		o.log.WarningErr(err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.SweepStale(ctx); err != nil {
				o.log.WarningErr(err)
			}
		}
	}
}

