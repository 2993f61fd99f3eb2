package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found in ledger")
	ErrBlockNotFound   = errors.New("block not found in ledger")
	// ErrHeadContended: every append attempt lost the race for the head.
	ErrHeadContended = errors.New("ledger head contended")
	// ErrForbiddenPayload: a payload carried note text or key material.
	ErrForbiddenPayload = errors.New("payload must not carry note text or keys")
)

// ChainBrokenError reports a block whose previousHash does not match the
// hash of the block before it. Previous is 0 when the first block does not
// link to Genesis.
type ChainBrokenError struct {
	Previous int64
	At       int64
	Expected string
	Got      string
}

func (e *ChainBrokenError) Error() string {
	if e.Previous == 0 {
		return fmt.Sprintf("chain broken at first block %d: previousHash %s, want %s", e.At, e.Got, e.Expected)
	}
	return fmt.Sprintf("chain broken between blocks %d and %d: previousHash %s, want %s",
		e.Previous, e.At, e.Got, e.Expected)
}

// BlockTamperedError reports a block whose stored hash does not match its
// contents, or that cannot be decoded at all.
type BlockTamperedError struct {
	At       int64
	Key      string
	Stored   string
	Computed string
	Err      error
}

func (e *BlockTamperedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("block %s tampered: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("block %d tampered: stored hash %s, computed %s", e.At, e.Stored, e.Computed)
}

func (e *BlockTamperedError) Unwrap() error { return e.Err }
