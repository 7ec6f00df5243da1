// Package db declares the narrow interfaces the repository layer depends
// on instead of a concrete *borp.DbMap, so tests can substitute in-memory
// fakes.
package db

import (
	"database/sql"

	"github.com/letsencrypt/borp"
)

// By convention, any function that takes a OneSelector, Selector,
// Inserter, Execer, or SelectExecer as an argument expects that a context
// has already been applied to the relevant DbMap or Transaction object.

// OneSelector is anything that provides a SelectOne function.
type OneSelector interface {
	SelectOne(interface{}, string, ...interface{}) error
}

// Selector is anything that provides a Select function.
type Selector interface {
	Select(interface{}, string, ...interface{}) ([]interface{}, error)
}

// Inserter is anything that provides an Insert function.
type Inserter interface {
	Insert(list ...interface{}) error
}

// Execer is anything that provides an Exec function.
type Execer interface {
	Exec(string, ...interface{}) (sql.Result, error)
}

// SelectExecer offers a subset of borp.SqlExecutor's methods: Select and
// Exec.
type SelectExecer interface {
	Selector
	Execer
}

// DatabaseMap offers the full combination of OneSelector, Inserter,
// SelectExecer, and a Begin function for creating a Transaction.
type DatabaseMap interface {
	OneSelector
	Inserter
	SelectExecer
	Begin() (*borp.Transaction, error)
}

// Transaction offers the OneSelector, Inserter, and SelectExecer
// interfaces plus Delete, Get, Update, and Commit/Rollback.
type Transaction interface {
	OneSelector
	Inserter
	SelectExecer
	Delete(...interface{}) (int64, error)
	Get(interface{}, ...interface{}) (interface{}, error)
	Update(...interface{}) (int64, error)
	Commit() error
	Rollback() error
}

// WithTransaction runs fn inside a transaction opened on dbMap, committing
// on success and rolling back if fn returns an error or panics.
func WithTransaction(dbMap DatabaseMap, fn func(tx Transaction) error) (err error) {
	txr, err := dbMap.Begin()
	if err != nil {
		return err
	}
	tx := Transaction(txr)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}
		return err
	}
	return tx.Commit()
}
