// Package notes writes and reads encrypted therapist session notes. Every
// note is notarized in the ledger: the record, the ledger block that
// describes it and the booking status change are committed together.
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/cryptox"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/ledger"
	"github.com/emoelevate/notesledger/internal/logging"
)

var (
	// ErrAlreadyCompleted: the session has its note; further text goes
	// into addenda.
	ErrAlreadyCompleted = errors.New("session already completed with notes")
	// ErrRecordNotFound wraps common.ErrorNotFound.
	ErrRecordNotFound = fmt.Errorf("note record: %w", common.ErrorNotFound)
	// ErrRecordMismatch: a record and the ledger block it references
	// disagree.
	ErrRecordMismatch = errors.New("note record does not match its ledger block")
	// ErrAddendumUnreadable: a child of a session record is keyed like an
	// addendum but does not decode as one.
	ErrAddendumUnreadable = errors.New("addendum unreadable")
	// ErrNotBooked wraps common.ErrorForbidden: the therapist holds no
	// booking of the session with that client.
	ErrNotBooked = fmt.Errorf("session not booked: %w", common.ErrorForbidden)
)

// BookingCompleted is the status a booking gets once its notes are in.
const BookingCompleted = "completed"

// Manager implements the note operations on top of a store and the ledger.
type Manager struct {
	store    kv.Store
	writer   *ledger.Writer
	verifier *ledger.Verifier
	keys     *cryptox.Keyring
	logger   logging.Logger
}

func NewManager(store kv.Store, w *ledger.Writer, v *ledger.Verifier, keys *cryptox.Keyring, logger logging.Logger) *Manager {
	return &Manager{
		store:    store,
		writer:   w,
		verifier: v,
		keys:     keys,
		logger:   logger.With("module", "notes"),
	}
}

// CompleteSessionWithNotes encrypts text, records the note in the ledger and
// stores the NoteRecord at users/{client}/therapyNotes/{session}. t must
// hold a booking of s with s.ClientID, which is marked completed in the
// same commit. Empty text is allowed and yields a record with empty notes
// and key.
func (m *Manager) CompleteSessionWithNotes(ctx context.Context, s Session, text string, t Therapist) (*NoteRecord, error) {
	if err := validate(s, t); err != nil {
		return nil, err
	}
	_, bk, err := m.bookingOf(ctx, s, t)
	if err != nil {
		return nil, err
	}
	s = bk.fill(s)
	path := RecordPath(s.ClientID, s.ID)
	if exists, err := m.exists(ctx, path); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, s.ID)
	}

	rec, err := m.seal(ctx, s, text, t)
	if err != nil {
		return nil, err
	}

	entry := m.entry(s, t, KindSession, path, rec.Notes)
	blk, err := m.writer.AppendWith(ctx, entry, func(b ledger.Block) ([]kv.Write, error) {
		if exists, err := m.exists(ctx, path); err != nil {
			return nil, err
		} else if exists {
			return nil, ErrAlreadyCompleted
		}
		stamp(rec, b)
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		writes := []kv.Write{kv.PutIfAbsent(path, raw)}
		bookingRaw, _, err := m.bookingOf(ctx, s, t)
		if err != nil {
			return nil, err
		}
		if w, err := markCompleted(therapistBookingPath(t.ID, s.ID), bookingRaw); err != nil {
			return nil, err
		} else if w != nil {
			writes = append(writes, *w)
		}

		clientPath := clientBookingPath(s.ClientID, s.ID)
		clientRaw, err := m.store.Get(ctx, clientPath)
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("read booking %s: %w", clientPath, err)
		default:
			if w, err := markCompleted(clientPath, clientRaw); err != nil {
				return nil, err
			} else if w != nil {
				writes = append(writes, *w)
			}
		}
		return writes, nil
	})
	if errors.Is(err, ErrAlreadyCompleted) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, s.ID)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "session completed", "session", s.ID, "client", s.ClientID, "therapist", t.ID, "block", blk.Hash)
	return rec, nil
}

// AppendAdditionalNotes stores an addendum under the session record, keyed
// by the timestamp of its ledger block, so earlier notes are never
// overwritten. t must hold the booking of s and the session must already
// have its note.
func (m *Manager) AppendAdditionalNotes(ctx context.Context, s Session, text string, t Therapist) (*NoteRecord, error) {
	if err := validate(s, t); err != nil {
		return nil, err
	}
	_, bk, err := m.bookingOf(ctx, s, t)
	if err != nil {
		return nil, err
	}
	s = bk.fill(s)
	base := RecordPath(s.ClientID, s.ID)
	if exists, err := m.exists(ctx, base); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("%w: %s/%s has no session note", ErrRecordNotFound, s.ClientID, s.ID)
	}

	rec, err := m.seal(ctx, s, text, t)
	if err != nil {
		return nil, err
	}

	entry := m.entry(s, t, KindAddendum, base, rec.Notes)
	blk, err := m.writer.AppendWith(ctx, entry, func(b ledger.Block) ([]kv.Write, error) {
		stamp(rec, b)
		rec.AddendumKey = strconv.FormatInt(b.Timestamp, 10)
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		return []kv.Write{kv.PutIfAbsent(AddendumPath(s.ClientID, s.ID, b.Timestamp), raw)}, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "addendum appended", "session", s.ID, "client", s.ClientID, "therapist", t.ID, "block", blk.Hash)
	return rec, nil
}

// ReadNotes unwraps the record's key and decrypts its notes. The returned
// status tells authenticated plaintext apart from legacy text and from a
// failed decryption; the error is reserved for key custody failures.
func (m *Manager) ReadNotes(ctx context.Context, rec *NoteRecord) (cryptox.Decrypted, error) {
	if rec == nil {
		return cryptox.Decrypted{}, fmt.Errorf("%w: nil record", common.ErrInvalidInput)
	}
	key := rec.EncryptionKey
	if key != "" {
		var err error
		key, err = m.keys.Unwrap(ctx, rec.KeyScheme, key)
		if err != nil {
			return cryptox.Decrypted{Text: rec.Notes, Status: cryptox.StatusFailed, Err: err}, err
		}
	}

	d := cryptox.Open(rec.Notes, key)
	if d.Status == cryptox.StatusFailed {
		m.logger.Warn(ctx, "note could not be decrypted", "session", rec.SessionID, "client", rec.ClientID, "error", d.Err)
	}
	return d, nil
}

// GetRecord loads the session note of clientID's sessionID.
func (m *Manager) GetRecord(ctx context.Context, clientID, sessionID string) (*NoteRecord, error) {
	if !validSegment(clientID) || !validSegment(sessionID) {
		return nil, fmt.Errorf("%w: client and session ids are required", common.ErrInvalidInput)
	}
	var rec NoteRecord
	if err := kv.GetJSON(ctx, m.store, RecordPath(clientID, sessionID), &rec); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, clientID, sessionID)
		}
		return nil, err
	}
	return &rec, nil
}

// ListAddenda returns the addenda of a session, oldest first. Addenda that
// do not decode are left out and reported by an error wrapping
// ErrAddendumUnreadable, returned together with the readable ones.
func (m *Manager) ListAddenda(ctx context.Context, clientID, sessionID string) ([]*NoteRecord, error) {
	if !validSegment(clientID) || !validSegment(sessionID) {
		return nil, fmt.Errorf("%w: client and session ids are required", common.ErrInvalidInput)
	}
	path := RecordPath(clientID, sessionID)
	children, err := m.store.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	list, bad := decodeAddenda(children)
	if len(bad) > 0 {
		m.logger.Warn(ctx, "unreadable addenda", "record", path, "keys", bad)
		return list, fmt.Errorf("%w: %s/%s", ErrAddendumUnreadable, path, strings.Join(bad, ","))
	}
	return list, nil
}

// VerifyRecord checks the ledger up to the block rec references and that the
// block describes rec: same session, client and path, and the digest of the
// stored notes.
func (m *Manager) VerifyRecord(ctx context.Context, rec *NoteRecord) (ledger.Block, error) {
	if rec == nil {
		return ledger.Block{}, fmt.Errorf("%w: nil record", common.ErrInvalidInput)
	}
	if rec.BlockHash == "" {
		return ledger.Block{}, fmt.Errorf("%w: record carries no block hash", ErrRecordMismatch)
	}
	blk, err := m.verifier.VerifyBlock(ctx, rec.BlockHash)
	if err != nil {
		return ledger.Block{}, err
	}

	mismatch := func(field, want, got string) error {
		return fmt.Errorf("%w: %s is %q in the ledger, %q in the record", ErrRecordMismatch, field, want, got)
	}
	if v := blk.DataString("sessionId"); v != rec.SessionID {
		return blk, mismatch("sessionId", v, rec.SessionID)
	}
	if v := blk.DataString("clientId"); v != rec.ClientID {
		return blk, mismatch("clientId", v, rec.ClientID)
	}
	if v := blk.DataString("recordPath"); v != RecordPath(rec.ClientID, rec.SessionID) {
		return blk, mismatch("recordPath", v, RecordPath(rec.ClientID, rec.SessionID))
	}
	if rec.IsAddendum() {
		if v := strconv.FormatInt(blk.Timestamp, 10); v != rec.AddendumKey {
			return blk, mismatch("addendumKey", v, rec.AddendumKey)
		}
	}
	if v, got := blk.DataString("notesDigest"), cryptox.Digest(rec.Notes); v != got {
		return blk, mismatch("notesDigest", v, got)
	}
	return blk, nil
}

// seal encrypts text and wraps its key with the current custody scheme.
func (m *Manager) seal(ctx context.Context, s Session, text string, t Therapist) (*NoteRecord, error) {
	enc, err := cryptox.Encrypt(text)
	if err != nil {
		m.logger.Error(ctx, "note encryption failed", "session", s.ID, "error", err)
		return nil, err
	}

	rec := &NoteRecord{
		Notes:         enc.Ciphertext,
		SessionID:     s.ID,
		ClientID:      s.ClientID,
		TherapistID:   t.ID,
		TherapistName: t.Name,
		SessionDate:   s.ScheduledDate,
		SessionTime:   s.ScheduledTime,
		Payment:       s.Payment,
	}
	if enc.Key != "" {
		w := m.keys.Current()
		rec.EncryptionKey, err = w.Wrap(ctx, enc.Key)
		if err != nil {
			m.logger.Error(ctx, "note key wrapping failed", "session", s.ID, "scheme", w.Scheme(), "error", err)
			return nil, fmt.Errorf("%w: wrap key: %w", common.ErrEncryption, err)
		}
		rec.KeyScheme = w.Scheme()
	}
	return rec, nil
}

// entry builds the ledger payload of a note. It references the record and
// the digest of its ciphertext, never the text or the key.
func (m *Manager) entry(s Session, t Therapist, kind, recordPath, notes string) ledger.Entry {
	return ledger.Entry{
		Data: map[string]any{
			"sessionId":   s.ID,
			"therapistId": t.ID,
			"clientId":    s.ClientID,
			"sessionDate": s.ScheduledDate,
			"sessionTime": s.ScheduledTime,
			"kind":        kind,
			"recordPath":  recordPath,
			"notesDigest": cryptox.Digest(notes),
		},
		TherapistID: t.ID,
		SessionID:   s.ID,
	}
}

// bookingOf loads the booking t holds for s. A missing booking, or one
// made with another client, yields ErrNotBooked.
func (m *Manager) bookingOf(ctx context.Context, s Session, t Therapist) ([]byte, booking, error) {
	path := therapistBookingPath(t.ID, s.ID)
	raw, err := m.store.Get(ctx, path)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, booking{}, fmt.Errorf("%w: %s by therapist %s", ErrNotBooked, s.ID, t.ID)
	}
	if err != nil {
		return nil, booking{}, fmt.Errorf("read booking %s: %w", path, err)
	}
	var b booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, booking{}, fmt.Errorf("decode booking %s: %w", path, err)
	}
	if b.UserID != s.ClientID {
		return nil, booking{}, fmt.Errorf("%w: %s is not with client %s", ErrNotBooked, s.ID, s.ClientID)
	}
	return raw, b, nil
}

// markCompleted returns the write that swaps the status of the booking raw
// read from path to completed, or nil when it already is.
func markCompleted(path string, raw []byte) (*kv.Write, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", path, err)
	}
	var status string
	_ = json.Unmarshal(doc["status"], &status)
	if status == BookingCompleted {
		return nil, nil
	}
	doc["status"] = json.RawMessage(strconv.Quote(BookingCompleted))
	updated, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	w := kv.PutIfEquals(path, raw, updated)
	return &w, nil
}

func (m *Manager) exists(ctx context.Context, path string) (bool, error) {
	_, err := m.store.Get(ctx, path)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func stamp(rec *NoteRecord, b ledger.Block) {
	rec.BlockHash = b.Hash
	rec.CreatedAt = b.Timestamp
	rec.UpdatedAt = b.Timestamp
}

// decodeAddenda returns the addenda among children, oldest first, and the
// sorted keys of those that do not decode. Keys other than timestamps are
// not addenda.
func decodeAddenda(children map[string][]byte) ([]*NoteRecord, []string) {
	type keyed struct {
		ts  int64
		rec *NoteRecord
	}
	items := make([]keyed, 0, len(children))
	var bad []string
	for key, raw := range children {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		var rec NoteRecord
		if json.Unmarshal(raw, &rec) != nil {
			bad = append(bad, key)
			continue
		}
		if rec.AddendumKey == "" {
			rec.AddendumKey = key
		}
		items = append(items, keyed{ts: ts, rec: &rec})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ts < items[j].ts })
	out := make([]*NoteRecord, len(items))
	for i, it := range items {
		out[i] = it.rec
	}
	sort.Strings(bad)
	return out, bad
}

func validate(s Session, t Therapist) error {
	switch {
	case !validSegment(s.ID):
		return fmt.Errorf("%w: session id %q", common.ErrInvalidInput, s.ID)
	case !validSegment(s.ClientID):
		return fmt.Errorf("%w: client id %q", common.ErrInvalidInput, s.ClientID)
	case !validSegment(t.ID):
		return fmt.Errorf("%w: therapist id %q", common.ErrInvalidInput, t.ID)
	case s.TherapistID != "" && s.TherapistID != t.ID:
		return fmt.Errorf("%w: session %s belongs to therapist %s", common.ErrInvalidInput, s.ID, s.TherapistID)
	}
	return nil
}

// validSegment reports whether id can be used as one path segment.
func validSegment(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.Contains(id, "/")
}
