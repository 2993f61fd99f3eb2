// Package access resolves who is calling and decides what they may do with
// session notes. Identities come from the users/{uid} and therapists/{key}
// documents of the store, the same records the dashboards write.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTherapist Role = "therapist"
	RoleUser      Role = "user"
)

// Identity is a resolved caller.
type Identity struct {
	UID    string
	Name   string
	Role   Role
	Active bool
	// TherapistKey is the therapists/{key} key of a therapist caller.
	TherapistKey string
}

type profile struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsActive *bool  `json:"isActive"`
}

type therapistDoc struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// Directory reads identities from the store.
type Directory struct {
	store kv.Store
}

func NewDirectory(store kv.Store) *Directory {
	return &Directory{store: store}
}

// UserPath is where the profile of uid lives.
func UserPath(uid string) string { return kv.Join("users", uid) }

// TherapistPath is where the therapist document with key lives.
func TherapistPath(key string) string { return kv.Join("therapists", key) }

// BookingsPath is the collection of bookings of a therapist.
func BookingsPath(therapistKey string) string { return kv.Join(TherapistPath(therapistKey), "bookings") }

// Resolve loads the identity of uid. Unknown users yield
// common.ErrorUnauthorized. A profile without isActive counts as active.
func (d *Directory) Resolve(ctx context.Context, uid string) (Identity, error) {
	if uid == "" {
		return Identity{}, common.ErrorUnauthorized
	}
	var p profile
	if err := kv.GetJSON(ctx, d.store, UserPath(uid), &p); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: unknown user %s", common.ErrorUnauthorized, uid)
		}
		return Identity{}, err
	}

	id := Identity{UID: uid, Name: p.Name, Role: p.Role, Active: p.IsActive == nil || *p.IsActive}
	if id.Role == "" {
		id.Role = RoleUser
	}
	if id.Role == RoleTherapist {
		key, doc, err := d.therapistByUID(ctx, uid)
		if err != nil {
			return Identity{}, err
		}
		id.TherapistKey = key
		if id.Name == "" {
			id.Name = doc.Name
		}
	}
	return id, nil
}

// therapistByUID scans therapists/ for the document carrying uid.
func (d *Directory) therapistByUID(ctx context.Context, uid string) (string, therapistDoc, error) {
	docs, err := d.store.Children(ctx, "therapists")
	if err != nil {
		return "", therapistDoc{}, fmt.Errorf("load therapists: %w", err)
	}
	for key, raw := range docs {
		var doc therapistDoc
		if json.Unmarshal(raw, &doc) != nil {
			continue
		}
		if doc.UID == uid {
			return key, doc, nil
		}
	}
	return "", therapistDoc{}, fmt.Errorf("%w: no therapist profile for %s", common.ErrorForbidden, uid)
}

// Authenticate parses a bearer token and resolves its uid.
func Authenticate(ctx context.Context, tokens *Tokens, dir *Directory, raw string) (Identity, error) {
	uid, err := tokens.ParseToken(raw)
	if err != nil {
		return Identity{}, err
	}
	return dir.Resolve(ctx, uid)
}
