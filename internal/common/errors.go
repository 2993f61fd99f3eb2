// Package common defines sentinel errors and small helpers shared by the
// notes ledger packages. Callers should match the errors with errors.Is.
package common

import "errors"

var (
	// Storage-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidInput   = errors.New("invalid input")

	// Note codec errors.
	ErrEncryption = errors.New("encryption failure")
	ErrDecryption = errors.New("decryption failure")

	// Ledger errors.
	ErrLedgerWrite = errors.New("ledger write failure")

	// A ledger block exists whose note record was never written (or was
	// overwritten afterwards).
	ErrPartialCompletion = errors.New("partial completion failure")
)
