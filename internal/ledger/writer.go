package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emoelevate/notesledger/internal/canon"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/logging"
	"github.com/sethvargo/go-retry"
)

// forbiddenPayloadKeys may never appear at the top level of a block payload.
var forbiddenPayloadKeys = []string{"notes", "encryptionKey", "plaintext"}

// Entry is what a caller asks the ledger to record.
type Entry struct {
	Data        map[string]any
	TherapistID string
	SessionID   string
}

// AttachFunc returns extra writes to commit together with block b. It is
// called once per attempt, after b's timestamp and hash are final.
type AttachFunc func(b Block) ([]kv.Write, error)

// Writer appends blocks. Each append commits the block (create-only), the
// head hash (compare-and-swap against the value read) and the head
// timestamp in one store commit; losing the race for the head retries with
// exponential backoff.
type Writer struct {
	store    kv.Store
	logger   logging.Logger
	now      func() time.Time
	attempts uint64
	backoff  time.Duration
}

type WriterOption func(*Writer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithAttempts sets how many times an append tries to win the head; at least one.
func WithAttempts(n int) WriterOption {
	return func(w *Writer) {
		if n < 1 {
			n = 1
		}
		w.attempts = uint64(n)
	}
}

// WithBackoff sets the first retry delay; later delays double.
func WithBackoff(d time.Duration) WriterOption {
	return func(w *Writer) { w.backoff = d }
}

func NewWriter(store kv.Store, logger logging.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		store:    store,
		logger:   logger.With("module", "ledger"),
		now:      time.Now,
		attempts: 5,
		backoff:  10 * time.Millisecond,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Append records payload and returns the new block's hash.
func (w *Writer) Append(ctx context.Context, payload map[string]any, therapistID, sessionID string) (string, error) {
	b, err := w.AppendWith(ctx, Entry{Data: payload, TherapistID: therapistID, SessionID: sessionID}, nil)
	if err != nil {
		return "", err
	}
	return b.Hash, nil
}

// AppendWith records e and commits whatever attach returns in the same
// commit. Errors wrap common.ErrLedgerWrite; when every attempt lost the
// head race they also wrap ErrHeadContended and kv.ErrConflict.
func (w *Writer) AppendWith(ctx context.Context, e Entry, attach AttachFunc) (Block, error) {
	for _, k := range forbiddenPayloadKeys {
		if _, ok := e.Data[k]; ok {
			return Block{}, fmt.Errorf("%w: %w: %q", common.ErrLedgerWrite, ErrForbiddenPayload, k)
		}
	}
	data, err := canon.Normalize(e.Data)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %w", common.ErrLedgerWrite, err)
	}
	e.Data = data

	var (
		out   Block
		tries int
	)
	b := retry.WithMaxRetries(w.attempts-1, retry.WithJitterPercent(20, retry.NewExponential(w.backoff)))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		blk, err := w.tryAppend(ctx, e, attach)
		if errors.Is(err, kv.ErrConflict) {
			w.logger.Debug(ctx, "ledger head moved, retrying", "attempt", tries, "session", e.SessionID)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = blk
		return nil
	})
	if err != nil {
		if errors.Is(err, kv.ErrConflict) {
			w.logger.Warn(ctx, "ledger append gave up", "attempts", tries, "session", e.SessionID)
			return Block{}, fmt.Errorf("%w: %w after %d attempts: %w", common.ErrLedgerWrite, ErrHeadContended, tries, err)
		}
		w.logger.Error(ctx, "ledger append failed", "session", e.SessionID, "error", err)
		return Block{}, fmt.Errorf("%w: %w", common.ErrLedgerWrite, err)
	}

	w.logger.Info(ctx, "block appended", "hash", out.Hash, "timestamp", out.Timestamp, "session", out.SessionID)
	return out, nil
}

func (w *Writer) tryAppend(ctx context.Context, e Entry, attach AttachFunc) (Block, error) {
	headRaw, err := w.store.Get(ctx, HeadPath)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Block{}, fmt.Errorf("read head: %w", err)
	}
	prev := Genesis
	if headRaw != nil {
		prev = decodeHead(headRaw)
	}

	last, err := w.lastTimestamp(ctx)
	if err != nil {
		return Block{}, err
	}
	ts := w.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}

	blk := Block{
		PreviousHash: prev,
		Timestamp:    ts,
		Data:         e.Data,
		TherapistID:  e.TherapistID,
		SessionID:    e.SessionID,
	}
	if blk.Hash, err = blk.ComputeHash(); err != nil {
		return Block{}, err
	}

	raw, err := json.Marshal(blk)
	if err != nil {
		return Block{}, fmt.Errorf("encode block: %w", err)
	}
	newHead, err := json.Marshal(blk.Hash)
	if err != nil {
		return Block{}, err
	}

	writes := []kv.Write{kv.PutIfAbsent(BlockPath(ts), raw)}
	if headRaw == nil {
		writes = append(writes, kv.PutIfAbsent(HeadPath, newHead))
	} else {
		writes = append(writes, kv.PutIfEquals(HeadPath, headRaw, newHead))
	}
	writes = append(writes, kv.Put(TimestampPath, []byte(strconv.FormatInt(ts, 10))))

	if attach != nil {
		extra, err := attach(blk)
		if err != nil {
			return Block{}, err
		}
		writes = append(writes, extra...)
	}

	if err := w.store.Commit(ctx, writes...); err != nil {
		return Block{}, err
	}
	return blk, nil
}

func (w *Writer) lastTimestamp(ctx context.Context) (int64, error) {
	raw, err := w.store.Get(ctx, TimestampPath)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read head timestamp: %w", err)
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("head timestamp %q: %w", raw, err)
	}
	return ts, nil
}
