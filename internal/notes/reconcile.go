package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
)

type OrphanKind string

const (
	// OrphanBlock is a ledger block whose note record is missing or was
	// replaced by one referencing another block.
	OrphanBlock OrphanKind = "block"
	// OrphanRecord is a note record referencing a block the ledger lacks.
	OrphanRecord OrphanKind = "record"
)

// Orphan is one half of a completion whose other half never landed.
type Orphan struct {
	Kind       OrphanKind
	BlockHash  string
	Timestamp  int64
	SessionID  string
	ClientID   string
	RecordPath string
	Reason     string
}

// Err describes o as a partial completion.
func (o Orphan) Err() error {
	return fmt.Errorf("%w: %s %s: %s", common.ErrPartialCompletion, o.Kind, o.RecordPath, o.Reason)
}

// Reconcile cross-checks the ledger against the note records. Blocks are
// matched to the record at their recordPath (addenda by blockHash among the
// session's children); records of every client named in the ledger are
// matched back to blocks. Nothing is repaired.
func (m *Manager) Reconcile(ctx context.Context) ([]Orphan, error) {
	blocks, err := m.verifier.Blocks(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []Orphan
	hashes := make(map[string]struct{}, len(blocks))
	clients := make(map[string]struct{})
	type sessionAddenda struct {
		list []*NoteRecord
		bad  map[string]struct{}
	}
	addenda := make(map[string]sessionAddenda)

	for _, b := range blocks {
		hashes[b.Hash] = struct{}{}
		kind, path := b.DataString("kind"), b.DataString("recordPath")
		if kind == "" || path == "" {
			continue
		}
		if c := b.DataString("clientId"); c != "" {
			clients[c] = struct{}{}
		}

		orphan := func(reason string) {
			orphans = append(orphans, Orphan{
				Kind:       OrphanBlock,
				BlockHash:  b.Hash,
				Timestamp:  b.Timestamp,
				SessionID:  b.DataString("sessionId"),
				ClientID:   b.DataString("clientId"),
				RecordPath: path,
				Reason:     reason,
			})
		}

		switch kind {
		case KindSession:
			var rec NoteRecord
			err := kv.GetJSON(ctx, m.store, path, &rec)
			switch {
			case errors.Is(err, kv.ErrNotFound):
				orphan("record missing")
			case err != nil && kv.IsRetryable(err):
				return nil, err
			case err != nil:
				orphan("record unreadable")
			case rec.BlockHash != b.Hash:
				orphan(fmt.Sprintf("record references block %q", rec.BlockHash))
			}
		case KindAddendum:
			c, ok := addenda[path]
			if !ok {
				raw, err := m.store.Children(ctx, path)
				if err != nil {
					return nil, err
				}
				list, bad := decodeAddenda(raw)
				c = sessionAddenda{list: list, bad: make(map[string]struct{}, len(bad))}
				for _, k := range bad {
					c.bad[k] = struct{}{}
				}
				addenda[path] = c
			}
			if !referenced(c.list, b.Hash) {
				if _, bad := c.bad[strconv.FormatInt(b.Timestamp, 10)]; bad {
					orphan("addendum unreadable")
				} else {
					orphan("addendum missing")
				}
			}
		}
	}

	recs, err := m.recordOrphans(ctx, sortedKeys(clients), hashes)
	if err != nil {
		return nil, err
	}
	orphans = append(orphans, recs...)

	for _, o := range orphans {
		m.logger.Warn(ctx, "partial completion",
			"kind", o.Kind, "block", o.BlockHash, "session", o.SessionID, "record", o.RecordPath,
			"reason", o.Reason, "error", common.ErrPartialCompletion)
	}
	return orphans, nil
}

// recordOrphans finds records of clients whose blockHash names no block.
// Records without a blockHash predate the ledger and are skipped.
func (m *Manager) recordOrphans(ctx context.Context, clients []string, hashes map[string]struct{}) ([]Orphan, error) {
	var out []Orphan
	check := func(rec *NoteRecord) {
		if rec.BlockHash == "" {
			return
		}
		if _, ok := hashes[rec.BlockHash]; ok {
			return
		}
		out = append(out, Orphan{
			Kind:       OrphanRecord,
			BlockHash:  rec.BlockHash,
			SessionID:  rec.SessionID,
			ClientID:   rec.ClientID,
			RecordPath: rec.Path(),
			Reason:     "referenced block not in ledger",
		})
	}

	for _, client := range clients {
		sessions, err := m.store.Children(ctx, kv.Join("users", client, "therapyNotes"))
		if err != nil {
			return nil, err
		}
		for _, sid := range sortedKeys(sessions) {
			var rec NoteRecord
			if json.Unmarshal(sessions[sid], &rec) == nil {
				if rec.SessionID == "" {
					rec.SessionID, rec.ClientID = sid, client
				}
				check(&rec)
			}
			children, err := m.store.Children(ctx, RecordPath(client, sid))
			if err != nil {
				return nil, err
			}
			list, _ := decodeAddenda(children)
			for _, a := range list {
				if a.SessionID == "" {
					a.SessionID, a.ClientID = sid, client
				}
				check(a)
			}
		}
	}
	return out, nil
}

func referenced(list []*NoteRecord, hash string) bool {
	for _, r := range list {
		if r.BlockHash == hash {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
