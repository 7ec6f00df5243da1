// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sa is the relational repository layer: it maps core's domain
// types onto tables via borp and implements the core repository
// interfaces the ingestion pipeline, validator, and reconciliation engine
// depend on.
package sa

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/letsencrypt/borp"

	"github.com/icao-pkd/localpkd-core/core"
	blog "github.com/icao-pkd/localpkd-core/log"
)

// dialectMap names the dialects the repository layer knows how to speak.
// Only "postgres" is wired to a real driver: no Oracle driver exists
// anywhere in the dependency set this core was built against (godror,
// go-oci8, goracle are all absent), so the dialect's SQL is shaped to stay
// portable but NewDbMap refuses to open one.
var dialectMap = map[string]borp.Dialect{
	"postgres": borp.PostgresDialect{},
}

// NewDbMap opens driver/name, pings it, and returns a borp.DbMap with
// every table used by the repository layer registered.
func NewDbMap(driver, name string) (*borp.DbMap, error) {
	logger := blog.Get()

	if driver != "postgres" {
		return nil, fmt.Errorf("sa: unsupported driver %q (oracle dialect shape exists but no driver is wired)", driver)
	}

	db, err := sql.Open(driver, name)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	logger.Debugf("connecting to database %s", driver)

	dialect, ok := dialectMap[driver]
	if !ok {
		return nil, fmt.Errorf("sa: no dialect registered for %q", driver)
	}

	dbMap := &borp.DbMap{Db: db, Dialect: dialect, TypeConverter: PkdTypeConverter{}}
	initTables(dbMap)

	logger.Infof("connected to database %s", driver)
	return dbMap, nil
}

// initTables registers every borp table mapping. Column-level constraints
// mirror spec §3's invariants where borp can express them directly;
// uniqueness of (certificate_type, fingerprint_sha256) and
// (issuer_dn, this_update) for CRLs is enforced at the schema (migration)
// level, not here.
func initTables(dbMap *borp.DbMap) {
	dbMap.AddTableWithName(core.Certificate{}, "certificates").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.Crl{}, "crls").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.MasterList{}, "master_lists").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.DeviationList{}, "deviation_lists").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.Upload{}, "uploads").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.UploadEntryAudit{}, "upload_entry_audit").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.ValidationResult{}, "validation_results").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.ReconciliationSummary{}, "reconciliation_summaries").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.ReconciliationLog{}, "reconciliation_logs").SetKeys(false, "ID")
	dbMap.AddTableWithName(core.SyncStatus{}, "sync_status").SetKeys(false, "ID")
}
