package notes

import (
	"context"
	"errors"

	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/cryptox"
	"github.com/emoelevate/notesledger/internal/ledger"
)

// Authorizer is implemented by *access.Policy.
type Authorizer interface {
	CanAuthor(ctx context.Context, id access.Identity, therapistID string) error
	CanRead(ctx context.Context, id access.Identity, clientID, authorID string) error
}

// Guarded runs Manager operations on behalf of an authenticated caller.
type Guarded struct {
	m      *Manager
	policy Authorizer
}

func NewGuarded(m *Manager, policy Authorizer) *Guarded {
	return &Guarded{m: m, policy: policy}
}

func authorOf(id access.Identity) Therapist {
	return Therapist{ID: id.TherapistKey, UID: id.UID, Name: id.Name}
}

func (g *Guarded) CompleteSessionWithNotes(ctx context.Context, id access.Identity, s Session, text string) (*NoteRecord, error) {
	if err := g.policy.CanAuthor(ctx, id, s.TherapistID); err != nil {
		return nil, err
	}
	return g.m.CompleteSessionWithNotes(ctx, s, text, authorOf(id))
}

func (g *Guarded) AppendAdditionalNotes(ctx context.Context, id access.Identity, s Session, text string) (*NoteRecord, error) {
	if err := g.policy.CanAuthor(ctx, id, s.TherapistID); err != nil {
		return nil, err
	}
	return g.m.AppendAdditionalNotes(ctx, s, text, authorOf(id))
}

// GetRecord returns the session note if id may read it. A caller without
// access gets common.ErrorForbidden whether or not the record exists.
func (g *Guarded) GetRecord(ctx context.Context, id access.Identity, clientID, sessionID string) (*NoteRecord, error) {
	rec, err := g.m.GetRecord(ctx, clientID, sessionID)
	if errors.Is(err, common.ErrorNotFound) {
		if perr := g.policy.CanRead(ctx, id, clientID, ""); perr != nil {
			return nil, perr
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err := g.policy.CanRead(ctx, id, clientID, rec.TherapistID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *Guarded) ReadNotes(ctx context.Context, id access.Identity, clientID, sessionID string) (*NoteRecord, cryptox.Decrypted, error) {
	rec, err := g.GetRecord(ctx, id, clientID, sessionID)
	if err != nil {
		return nil, cryptox.Decrypted{}, err
	}
	d, err := g.m.ReadNotes(ctx, rec)
	return rec, d, err
}

// ListAddenda returns the addenda id may read. Like Manager.ListAddenda it
// may return them together with an ErrAddendumUnreadable error.
func (g *Guarded) ListAddenda(ctx context.Context, id access.Identity, clientID, sessionID string) ([]*NoteRecord, error) {
	list, err := g.m.ListAddenda(ctx, clientID, sessionID)
	if err != nil && !errors.Is(err, ErrAddendumUnreadable) {
		return nil, err
	}
	unreadable := err
	out := list[:0]
	for _, rec := range list {
		if g.policy.CanRead(ctx, id, clientID, rec.TherapistID) == nil {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		author := ""
		if base, err := g.m.GetRecord(ctx, clientID, sessionID); err == nil {
			author = base.TherapistID
		}
		if err := g.policy.CanRead(ctx, id, clientID, author); err != nil {
			return nil, err
		}
	}
	return out, unreadable
}

func (g *Guarded) VerifyRecord(ctx context.Context, id access.Identity, clientID, sessionID string) (ledger.Block, error) {
	rec, err := g.GetRecord(ctx, id, clientID, sessionID)
	if err != nil {
		return ledger.Block{}, err
	}
	return g.m.VerifyRecord(ctx, rec)
}

// Reconcile is restricted to active admins.
func (g *Guarded) Reconcile(ctx context.Context, id access.Identity) ([]Orphan, error) {
	if !id.Active || id.Role != access.RoleAdmin {
		return nil, common.ErrorForbidden
	}
	return g.m.Reconcile(ctx)
}
