// Command pkd-ingestd is the process entrypoint: it loads configuration,
// wires the relational store, directory writer, trust chain validator,
// ingestion pipeline, upload orchestrator, and reconciliation engine
// together, and runs until a signal is received.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jmhodges/clock"

	"github.com/icao-pkd/localpkd-core/cmd"
	"github.com/icao-pkd/localpkd-core/core"
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/ingest"
	"github.com/icao-pkd/localpkd-core/ldapdir"
	"github.com/icao-pkd/localpkd-core/reconcile"
	"github.com/icao-pkd/localpkd-core/sa"
	"github.com/icao-pkd/localpkd-core/upload"
	"github.com/icao-pkd/localpkd-core/validator"
)

const defaultUploadTimeout = 30 * time.Minute
const defaultReconcileInterval = 1 * time.Hour
const defaultSweepInterval = 5 * time.Minute

func main() {
	configFile := flag.String("config", "", "File path to the configuration file for this service")
	flag.Parse()
	if *configFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	var c cmd.Config
	err := cmd.ReadConfigFile(*configFile, &c)
	cmd.FailOnError(err, "Reading JSON config file into config structure")

	stats, logger := cmd.StatsAndLogging(c.Syslog)
	logger.Info(cmd.VersionString())

	go cmd.DebugServer(c.DebugAddr)

	dbMap, err := sa.NewDbMap(orDefault(c.Database.Driver, "postgres"), c.Database.URL())
	cmd.FailOnError(err, "Could not connect to database")

	ldapWriter, err := ldapdir.Dial(ldapdir.Config{
		Addr:     c.Directory.Addr,
		BindDN:   c.Directory.BindDN,
		BindPW:   string(c.Directory.BindPW),
		BaseDN:   c.Directory.BaseDN,
		LegacyDN: c.Directory.LegacyDN,
	}, logger)
	cmd.FailOnError(err, "Could not connect to directory")

	certs := sa.NewCertificateRepo(dbMap)
	crls := sa.NewCrlRepo(dbMap)
	containers := sa.NewContainerRepo(dbMap)
	uploads := sa.NewUploadRepo(dbMap)
	validationResults := sa.NewValidationResultRepo(dbMap)
	reconRepo := sa.NewReconciliationRepo(dbMap)

	clk := clock.Default()
	events := ingest.NewBroker()

	val := validator.New(certs, crls, clk, logger, stats)
	pipe := ingest.NewPipeline(certs, crls, ldapWriter, events, uploads, containers, val, clk, logger, stats)

	uploadTimeout := c.Upload.Timeout.Duration
	if uploadTimeout == 0 {
		uploadTimeout = defaultUploadTimeout
	}
	orchestrator := upload.New(uploads, certs, events, val, validationResults, pipe, clk, logger, stats, uploadTimeout)

	sweepInterval := c.Upload.SweepInterval.Duration
	if sweepInterval == 0 {
		sweepInterval = defaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	go orchestrator.RunTimeoutSupervisor(ctx, sweepInterval)

	engine := reconcile.New(certs, crls, ldapWriter, reconRepo, clk, logger, stats)
	go runReconciliationLoop(ctx, engine, c.Reconciliation, logger)

	logger.Info("pkd-ingestd ready")
	cmd.CatchSignals(logger, cancel)
}

// runReconciliationLoop invokes engine.Run on a fixed interval until ctx is
// canceled. A run already in progress (reconcile.ErrAlreadyRunning) is
// logged and skipped rather than queued, matching the engine's
// at-most-one-run-at-a-time guarantee.
func runReconciliationLoop(ctx context.Context, engine *reconcile.Engine, conf cmd.ReconciliationConfig, logger blog.Logger) {
	interval := conf.Interval.Duration
	if interval == 0 {
		interval = defaultReconcileInterval
	}
	opts := reconcile.Options{
		DryRun:      conf.DryRun,
		Scope:       certTypes(conf.Scope),
		IncludeCRLs: conf.IncludeCRLs,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := engine.Run(ctx, opts)
			if err != nil {
				if err == reconcile.ErrAlreadyRunning {
					logger.Warning("reconciliation run skipped: previous run still in progress")
					continue
				}
				logger.WarningErr(err)
				continue
			}
			logger.Infof("reconciliation run %s completed with status %s", summary.ID, summary.Status)

			if _, err := engine.DeleteOrphans(ctx, opts); err != nil && err != reconcile.ErrAlreadyRunning {
				logger.WarningErr(err)
			}
			if _, err := engine.SnapshotSyncStatus(ctx); err != nil {
				logger.WarningErr(err)
			}
		}
	}
}

func certTypes(names []string) []core.CertificateType {
	if len(names) == 0 {
		return nil
	}
	out := make([]core.CertificateType, 0, len(names))
	for _, n := range names {
		out = append(out, core.CertificateType(n))
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
