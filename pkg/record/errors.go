package record

import "errors"

var (
	// ErrInvalidTableName is returned for empty or unusable table names
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrInvalidSchema is returned when a schema fails validation
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidAttr is returned for out-of-range attribute references
	ErrInvalidAttr = errors.New("invalid attribute")

	// ErrNoMoreTuples is returned by scans when the result set is exhausted
	ErrNoMoreTuples = errors.New("no more tuples")

	// ErrDuplicateKey is returned when an insert or update would repeat a primary key
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTableClosed is returned when operating on a closed table
	ErrTableClosed = errors.New("table is closed")
)
