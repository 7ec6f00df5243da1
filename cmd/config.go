// Copyright 2015 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level JSON configuration for cmd/pkd-ingestd, grouped
// by the component each section configures.
type Config struct {
	Syslog SyslogConfig

	Database       DatabaseConfig
	Directory      DirectoryConfig
	Reconciliation ReconciliationConfig
	Upload         UploadConfig

	// DebugAddr, if set, serves Prometheus metrics and Go runtime vars.
	DebugAddr string
}

// DatabaseConfig configures the relational repository layer (sa.NewDbMap).
type DatabaseConfig struct {
	// Driver is "postgres"; "oracle" is accepted by the dialect shape but
	// not wired to a driver (see sa.NewDbMap).
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password ConfigSecret
}

// URL builds a lib/pq-compatible connection string.
func (c DatabaseConfig) URL() string {
	var b strings.Builder
	field := func(k, v string) {
		if v == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	field("host", c.Host)
	if c.Port != 0 {
		field("port", strconv.Itoa(c.Port))
	}
	field("dbname", c.Name)
	field("user", c.User)
	field("password", string(c.Password))
	return b.String()
}

// DirectoryConfig configures ldapdir.Dial.
type DirectoryConfig struct {
	Addr     string
	BindDN   string
	BindPW   ConfigSecret
	BaseDN   string
	LegacyDN bool
}

// ReconciliationConfig configures the scheduled reconciliation loop.
type ReconciliationConfig struct {
	// Scope restricts which certificate types are reconciled; DSC_NC is
	// never included regardless of what's listed here (spec §4.6 policy).
	// Empty means reconcile.DefaultScope.
	Scope []string
	// IncludeCRLs also reconciles CRLs on each run.
	IncludeCRLs bool
	// Interval is how often Run is invoked. Zero uses pkd-ingestd's default
	// of one hour.
	Interval ConfigDuration
	// DryRun, if true, never starts in write mode; useful for staging the
	// engine against a new directory before trusting it with writes.
	DryRun bool
}

// UploadConfig configures the upload orchestrator.
type UploadConfig struct {
	// Timeout bounds how long an upload may sit in PROCESSING before the
	// timeout supervisor marks it FAILED. Zero uses upload.DefaultTimeout.
	Timeout ConfigDuration
	// SweepInterval is how often the timeout supervisor scans for stale
	// uploads.
	SweepInterval ConfigDuration
}

// SyslogConfig configures the process's syslog connection. An empty
// Server means "stderr only" (see blog.Dial).
type SyslogConfig struct {
	Network string
	Server  string
}

// ConfigDuration is an alias for time.Duration that unmarshals from a
// Go duration string ("30s", "2h") instead of an integer nanosecond count.
type ConfigDuration struct {
	time.Duration
}

// ErrDurationMustBeString is returned when a non-string value is
// presented to be deserialized as a ConfigDuration.
var ErrDurationMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigDuration")

// UnmarshalJSON parses a string into a ConfigDuration using
// time.ParseDuration.
func (d *ConfigDuration) UnmarshalJSON(b []byte) error {
	s := ""
	err := json.Unmarshal(b, &s)
	if err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return ErrDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

// MarshalJSON returns the string form of the duration.
func (d ConfigDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// ConfigSecret is a string-valued config field. If its value starts with
// "secret:", the remainder is treated as a file path and the field's real
// value is read from that file at unmarshal time, with trailing newlines
// trimmed — this keeps database and LDAP bind passwords out of the config
// file itself.
type ConfigSecret string

var errSecretMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigSecret")

const secretPrefix = "secret:"

// UnmarshalJSON unmarshals a ConfigSecret.
func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	s := ""
	err := json.Unmarshal(b, &s)
	if err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return errSecretMustBeString
		}
		return err
	}
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return err
	}
	*d = ConfigSecret(strings.TrimRight(string(contents), "\n"))
	return nil
}
