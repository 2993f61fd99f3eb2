package access

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
)

// Policy decides note access. Denials wrap common.ErrorForbidden.
type Policy struct {
	store kv.Store
}

func NewPolicy(store kv.Store) *Policy {
	return &Policy{store: store}
}

// CanAuthor allows an active therapist to write notes for sessions of
// therapistID, which must be the caller's own therapist key.
func (p *Policy) CanAuthor(_ context.Context, id Identity, therapistID string) error {
	if !id.Active {
		return fmt.Errorf("%w: account %s is inactive", common.ErrorForbidden, id.UID)
	}
	if id.Role != RoleTherapist || id.TherapistKey == "" {
		return fmt.Errorf("%w: only therapists write session notes", common.ErrorForbidden)
	}
	if therapistID != "" && therapistID != id.TherapistKey {
		return fmt.Errorf("%w: session belongs to therapist %s", common.ErrorForbidden, therapistID)
	}
	return nil
}

// CanRead allows admins, the client the notes are about, the therapist who
// wrote them, and any therapist holding a booking with that client.
func (p *Policy) CanRead(ctx context.Context, id Identity, clientID, authorID string) error {
	if !id.Active {
		return fmt.Errorf("%w: account %s is inactive", common.ErrorForbidden, id.UID)
	}
	switch id.Role {
	case RoleAdmin:
		return nil
	case RoleUser:
		if id.UID == clientID {
			return nil
		}
	case RoleTherapist:
		if id.TherapistKey != "" && id.TherapistKey == authorID {
			return nil
		}
		ok, err := p.hasBookingWith(ctx, id.TherapistKey, clientID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not read notes of %s", common.ErrorForbidden, id.UID, clientID)
}

func (p *Policy) hasBookingWith(ctx context.Context, therapistKey, clientID string) (bool, error) {
	if therapistKey == "" {
		return false, nil
	}
	bookings, err := p.store.Children(ctx, BookingsPath(therapistKey))
	if err != nil {
		return false, fmt.Errorf("load bookings: %w", err)
	}
	for _, raw := range bookings {
		var b struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(raw, &b) == nil && b.UserID == clientID {
			return true, nil
		}
	}
	return false, nil
}
