package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/logging"
)

// Report summarizes a successful verification.
type Report struct {
	Blocks int
	// Head is the stored head hash, Genesis when none is stored.
	Head string
	// HeadConsistent is false when the stored head does not name the last
	// block, which happens when a block write outlived its head update.
	HeadConsistent bool
	// SessionBlocks counts blocks whose data.sessionId matched the
	// requested session.
	SessionBlocks int
}

// Verifier checks the ledger. It never writes.
type Verifier struct {
	store  kv.Store
	logger logging.Logger
}

func NewVerifier(store kv.Store, logger logging.Logger) *Verifier {
	return &Verifier{store: store, logger: logger.With("module", "ledger")}
}

// Blocks loads every block ordered by timestamp. Pointer entries are
// skipped. A block that cannot be decoded yields a *BlockTamperedError.
func (v *Verifier) Blocks(ctx context.Context) ([]Block, error) {
	children, err := v.store.Children(ctx, Root)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	type keyed struct {
		key string
		b   Block
	}
	items := make([]keyed, 0, len(children))
	for key, raw := range children {
		if !isBlockKey(key) {
			continue
		}
		b, err := decodeBlock(raw)
		if err != nil {
			at, _ := strconv.ParseInt(key, 10, 64)
			return nil, &BlockTamperedError{At: at, Key: key, Err: err}
		}
		items = append(items, keyed{key: key, b: b})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].b.Timestamp != items[j].b.Timestamp {
			return items[i].b.Timestamp < items[j].b.Timestamp
		}
		return items[i].key < items[j].key
	})

	out := make([]Block, len(items))
	for i, it := range items {
		out[i] = it.b
	}
	return out, nil
}

// VerifyChain checks linkage and hashes of the whole ledger. With a
// non-empty sessionID it also requires a block whose data.sessionId equals
// it. Zero or one block is a valid chain.
//
// Errors: *ChainBrokenError, *BlockTamperedError, ErrSessionNotFound, or a
// storage error.
func (v *Verifier) VerifyChain(ctx context.Context, sessionID string) (Report, error) {
	blocks, err := v.Blocks(ctx)
	if err != nil {
		return Report{}, err
	}
	report := Report{Blocks: len(blocks)}

	if err := Verify(blocks); err != nil {
		v.logger.Warn(ctx, "ledger verification failed", "error", err)
		return report, err
	}

	head, err := v.head(ctx)
	if err != nil {
		return report, err
	}
	report.Head = head
	if len(blocks) == 0 {
		report.HeadConsistent = head == Genesis
	} else {
		report.HeadConsistent = head == blocks[len(blocks)-1].Hash
	}

	if sessionID != "" {
		for _, b := range blocks {
			if b.DataString("sessionId") == sessionID {
				report.SessionBlocks++
			}
		}
		if report.SessionBlocks == 0 {
			return report, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
	}
	return report, nil
}

// VerifyBlock checks the sub-chain from the first block up to and including
// the block carrying hash, and returns that block. Blocks appended after it
// are not examined.
func (v *Verifier) VerifyBlock(ctx context.Context, hash string) (Block, error) {
	blocks, err := v.Blocks(ctx)
	if err != nil {
		return Block{}, err
	}
	for i, b := range blocks {
		if b.Hash != hash {
			continue
		}
		if err := Verify(blocks[:i+1]); err != nil {
			return Block{}, err
		}
		return b, nil
	}
	return Block{}, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
}

func (v *Verifier) head(ctx context.Context) (string, error) {
	raw, err := v.store.Get(ctx, HeadPath)
	if errors.Is(err, kv.ErrNotFound) {
		return Genesis, nil
	}
	if err != nil {
		return "", fmt.Errorf("read head: %w", err)
	}
	return decodeHead(raw), nil
}

// Verify runs the linkage pass, then the hash pass, over blocks ordered as
// Blocks returns them. The first block must link to Genesis, so a chain
// missing its oldest blocks is broken.
func Verify(blocks []Block) error {
	if len(blocks) > 0 && blocks[0].PreviousHash != Genesis {
		return &ChainBrokenError{
			At:       blocks[0].Timestamp,
			Expected: Genesis,
			Got:      blocks[0].PreviousHash,
		}
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].PreviousHash != blocks[i-1].Hash {
			return &ChainBrokenError{
				Previous: blocks[i-1].Timestamp,
				At:       blocks[i].Timestamp,
				Expected: blocks[i-1].Hash,
				Got:      blocks[i].PreviousHash,
			}
		}
	}
	for _, b := range blocks {
		computed, err := b.ComputeHash()
		if err != nil {
			return &BlockTamperedError{At: b.Timestamp, Key: strconv.FormatInt(b.Timestamp, 10), Err: err}
		}
		if computed != b.Hash {
			return &BlockTamperedError{At: b.Timestamp, Key: strconv.FormatInt(b.Timestamp, 10), Stored: b.Hash, Computed: computed}
		}
	}
	return nil
}
