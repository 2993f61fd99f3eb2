package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
)

// BookingScheduled is the status of a booking that has no notes yet.
const BookingScheduled = "scheduled"

// ErrBookingExists: the booking id is taken.
var ErrBookingExists = errors.New("booking already exists")

// booking is the document kept at both booking paths.
type booking struct {
	UserID        string `json:"userId"`
	TherapistID   string `json:"therapistId"`
	ScheduledDate string `json:"scheduledDate,omitempty"`
	ScheduledTime string `json:"scheduledTime,omitempty"`
	Status        string `json:"status"`
}

// fill takes the schedule of s from the booking where s leaves it empty.
func (b booking) fill(s Session) Session {
	if s.ScheduledDate == "" {
		s.ScheduledDate = b.ScheduledDate
	}
	if s.ScheduledTime == "" {
		s.ScheduledTime = b.ScheduledTime
	}
	return s
}

// Book schedules s with therapist t and returns it with its booking id. An
// empty s.ID gets a fresh time-ordered id. Both copies of the booking are
// created in one commit; an id already in use yields ErrBookingExists.
func (m *Manager) Book(ctx context.Context, s Session, t Therapist) (Session, error) {
	if s.ID == "" {
		id, err := kv.PushKey()
		if err != nil {
			return Session{}, err
		}
		s.ID = id
	}
	if err := validate(s, t); err != nil {
		return Session{}, err
	}
	s.TherapistID = t.ID

	doc, err := json.Marshal(booking{
		UserID:        s.ClientID,
		TherapistID:   t.ID,
		ScheduledDate: s.ScheduledDate,
		ScheduledTime: s.ScheduledTime,
		Status:        BookingScheduled,
	})
	if err != nil {
		return Session{}, err
	}

	err = m.store.Commit(ctx,
		kv.PutIfAbsent(therapistBookingPath(t.ID, s.ID), doc),
		kv.PutIfAbsent(clientBookingPath(s.ClientID, s.ID), doc),
	)
	if errors.Is(err, kv.ErrConflict) {
		return Session{}, fmt.Errorf("%w: %s", ErrBookingExists, s.ID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("store booking %s: %w", s.ID, err)
	}

	m.logger.Info(ctx, "session booked", "session", s.ID, "therapist", t.ID)
	return s, nil
}

// Book lets a client schedule a session with therapist t for themselves
// and an admin schedule any. A booking grants t read access to the
// client's notes, so therapists cannot create them.
func (g *Guarded) Book(ctx context.Context, id access.Identity, s Session, t Therapist) (Session, error) {
	if !id.Active {
		return Session{}, fmt.Errorf("%w: account %s is inactive", common.ErrorForbidden, id.UID)
	}
	switch id.Role {
	case access.RoleAdmin:
	case access.RoleUser:
		if s.ClientID == "" {
			s.ClientID = id.UID
		}
		if s.ClientID != id.UID {
			return Session{}, fmt.Errorf("%w: clients book only for themselves", common.ErrorForbidden)
		}
	default:
		return Session{}, fmt.Errorf("%w: %s may not create bookings", common.ErrorForbidden, id.UID)
	}
	return g.m.Book(ctx, s, t)
}
