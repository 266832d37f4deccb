// Package storage implements the page-file layer: named files holding a
// zero-indexed sequence of fixed-size blocks behind a small metadata header.
package storage

import "errors"

const (
	// PageSize is the size of each block (4KB, typical OS page size)
	PageSize = 4096

	// MetaFieldSize is the size of the file header holding the total
	// block count as a zero-padded ASCII decimal
	MetaFieldSize = 10
)

var (
	// ErrFileNotFound is returned when opening or destroying a missing page file
	ErrFileNotFound = errors.New("page file not found")

	// ErrHandleNotInit is returned when operating on an uninitialized file handle
	ErrHandleNotInit = errors.New("file handle not initialized")

	// ErrFileCloseFailed is returned when the underlying file fails to close
	ErrFileCloseFailed = errors.New("failed to close page file")

	// ErrFileDeleteFailed is returned when a page file cannot be removed
	ErrFileDeleteFailed = errors.New("failed to delete page file")

	// ErrReadNonExistingPage is returned when reading past the last block
	ErrReadNonExistingPage = errors.New("read of non-existing page")

	// ErrReadFailed is returned when a block read fails at the OS level
	ErrReadFailed = errors.New("block read failed")

	// ErrWriteNonExistingPage is returned when writing past the last block
	ErrWriteNonExistingPage = errors.New("write of non-existing page")

	// ErrWriteFailed is returned when a block write fails at the OS level
	ErrWriteFailed = errors.New("block write failed")
)
