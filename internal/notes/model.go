package notes

import (
	"strconv"

	"github.com/emoelevate/notesledger/internal/kv"
)

// Session is a booked therapy session. ID is the booking id.
type Session struct {
	ID            string
	ClientID      string
	TherapistID   string
	ScheduledDate string
	ScheduledTime string
	Payment       *Payment
}

type Payment struct {
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Method   string  `json:"method,omitempty"`
	Status   string  `json:"status,omitempty"`
}

// Therapist is the author of a note. ID is the therapists/{key} key.
type Therapist struct {
	ID   string
	UID  string
	Name string
}

// NoteRecord is the stored note of a session or of one addendum.
//
// Notes holds the ciphertext, or the plaintext of a legacy record written
// before encryption. An empty EncryptionKey marks such a legacy record.
type NoteRecord struct {
	Notes         string   `json:"notes"`
	EncryptionKey string   `json:"encryptionKey,omitempty"`
	KeyScheme     string   `json:"keyScheme,omitempty"`
	BlockHash     string   `json:"blockHash,omitempty"`
	SessionID     string   `json:"sessionId"`
	ClientID      string   `json:"clientId"`
	TherapistID   string   `json:"therapistId"`
	TherapistName string   `json:"therapistName,omitempty"`
	SessionDate   string   `json:"sessionDate,omitempty"`
	SessionTime   string   `json:"sessionTime,omitempty"`
	Payment       *Payment `json:"payment,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
	UpdatedAt     int64    `json:"updatedAt"`
	// AddendumKey is the child key of an addendum under its session record.
	AddendumKey string `json:"addendumKey,omitempty"`
}

// IsAddendum reports whether r is an addendum rather than the session note.
func (r *NoteRecord) IsAddendum() bool { return r.AddendumKey != "" }

// Path is where r is stored.
func (r *NoteRecord) Path() string {
	if r.IsAddendum() {
		return kv.Join(RecordPath(r.ClientID, r.SessionID), r.AddendumKey)
	}
	return RecordPath(r.ClientID, r.SessionID)
}

// Ledger payload kinds.
const (
	KindSession  = "session"
	KindAddendum = "addendum"
)

// RecordPath is where the session note of clientID's sessionID lives.
func RecordPath(clientID, sessionID string) string {
	return kv.Join("users", clientID, "therapyNotes", sessionID)
}

// AddendumPath is where the addendum appended at ts lives.
func AddendumPath(clientID, sessionID string, ts int64) string {
	return kv.Join(RecordPath(clientID, sessionID), strconv.FormatInt(ts, 10))
}

// therapistBookingPath and clientBookingPath hold the two copies of a
// booking the dashboards keep.
func therapistBookingPath(therapistID, sessionID string) string {
	return kv.Join("therapists", therapistID, "bookings", sessionID)
}

func clientBookingPath(clientID, sessionID string) string {
	return kv.Join("bookings", clientID, sessionID)
}
