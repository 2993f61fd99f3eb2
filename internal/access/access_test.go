package access

import (
	"context"
	"testing"
	"time"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/memkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed writes the users and therapists a small practice would have.
func seed(t *testing.T) *memkv.Store {
	t.Helper()
	s := memkv.New()
	docs := map[string]string{
		"users/admin1":                    `{"name":"Ada","role":"admin"}`,
		"users/client1":                   `{"name":"Cleo","role":"user"}`,
		"users/client2":                   `{"name":"Cyd","role":"user","isActive":true}`,
		"users/ther1":                     `{"name":"Dr. Tan","role":"therapist","isActive":true}`,
		"users/ther2":                     `{"role":"therapist"}`,
		"users/ther3":                     `{"role":"therapist"}`,
		"users/gone":                      `{"role":"therapist","isActive":false}`,
		"therapists/t-tan":                `{"uid":"ther1","name":"Dr. Tan"}`,
		"therapists/t-two":                `{"uid":"ther2","name":"Dr. Two"}`,
		"therapists/t-gone":               `{"uid":"gone"}`,
		"therapists/t-two/bookings/b1":    `{"userId":"client1","status":"confirmed"}`,
		"therapists/t-tan/bookings/other": `{"userId":"client2"}`,
	}
	for p, v := range docs {
		require.NoError(t, kv.Set(context.Background(), s, p, []byte(v)))
	}
	return s
}

func TestDirectory_Resolve(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(seed(t))

	id, err := dir.Resolve(ctx, "ther1")
	require.NoError(t, err)
	assert.Equal(t, Identity{UID: "ther1", Name: "Dr. Tan", Role: RoleTherapist, Active: true, TherapistKey: "t-tan"}, id)

	id, err = dir.Resolve(ctx, "ther2")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Two", id.Name, "name falls back to the therapist document")

	id, err = dir.Resolve(ctx, "client1")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
	assert.True(t, id.Active)

	id, err = dir.Resolve(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, id.Active)

	_, err = dir.Resolve(ctx, "nobody")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = dir.Resolve(ctx, "ther3")
	assert.ErrorIs(t, err, common.ErrorForbidden, "therapist role without a therapist document")
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(seed(t))
	tokens := NewTokens([]byte("k"), time.Minute)

	tok, err := tokens.IssueToken("admin1")
	require.NoError(t, err)
	id, err := Authenticate(ctx, tokens, dir, tok)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, id.Role)

	_, err = Authenticate(ctx, tokens, dir, "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestPolicy_CanAuthor(t *testing.T) {
	ctx := context.Background()
	p := NewPolicy(seed(t))
	tan := Identity{UID: "ther1", Role: RoleTherapist, Active: true, TherapistKey: "t-tan"}

	assert.NoError(t, p.CanAuthor(ctx, tan, "t-tan"))
	assert.NoError(t, p.CanAuthor(ctx, tan, ""))
	assert.ErrorIs(t, p.CanAuthor(ctx, tan, "t-two"), common.ErrorForbidden)

	inactive := tan
	inactive.Active = false
	assert.ErrorIs(t, p.CanAuthor(ctx, inactive, "t-tan"), common.ErrorForbidden)

	admin := Identity{UID: "admin1", Role: RoleAdmin, Active: true}
	assert.ErrorIs(t, p.CanAuthor(ctx, admin, "t-tan"), common.ErrorForbidden)
}

func TestPolicy_CanRead(t *testing.T) {
	ctx := context.Background()
	p := NewPolicy(seed(t))

	tests := []struct {
		name    string
		id      Identity
		client  string
		author  string
		allowed bool
	}{
		{"admin", Identity{UID: "admin1", Role: RoleAdmin, Active: true}, "client1", "t-tan", true},
		{"owning client", Identity{UID: "client1", Role: RoleUser, Active: true}, "client1", "t-tan", true},
		{"other client", Identity{UID: "client2", Role: RoleUser, Active: true}, "client1", "t-tan", false},
		{"author", Identity{UID: "ther1", Role: RoleTherapist, Active: true, TherapistKey: "t-tan"}, "client1", "t-tan", true},
		{"therapist with booking", Identity{UID: "ther2", Role: RoleTherapist, Active: true, TherapistKey: "t-two"}, "client1", "t-tan", true},
		{"therapist without booking", Identity{UID: "ther2", Role: RoleTherapist, Active: true, TherapistKey: "t-two"}, "client2", "t-tan", false},
		{"inactive admin", Identity{UID: "admin1", Role: RoleAdmin}, "client1", "t-tan", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := p.CanRead(ctx, tc.id, tc.client, tc.author)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrorForbidden)
			}
		})
	}
}
