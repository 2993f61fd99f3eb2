// Package canon produces the deterministic serialization and hash of a
// ledger block. Object keys are sorted at every level, so two parties
// holding the same logical block always compute the same hash no matter
// how their maps were built.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fields are the hashed parts of a block. The hash itself and the storage
// key never participate.
type Fields struct {
	PreviousHash string
	Timestamp    int64
	Data         map[string]any
	TherapistID  string
	SessionID    string
}

// Canonicalize returns the canonical JSON text of f:
//
//	{"data":{...},"previousHash":"...","sessionId":"...","therapistId":"...","timestamp":N}
//
// Keys are sorted lexicographically at every depth, HTML characters are not
// escaped and there is no trailing newline. Numbers inside data keep the
// exact text they were decoded from when they are json.Number values.
func Canonicalize(f Fields) (string, error) {
	data, err := Normalize(f.Data)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = map[string]any{}
	}

	doc := map[string]any{
		"previousHash": f.PreviousHash,
		"timestamp":    f.Timestamp,
		"data":         data,
		"therapistId":  f.TherapistID,
		"sessionId":    f.SessionID,
	}
	return encode(doc)
}

// Hash is the lowercase hex SHA-256 of the UTF-8 bytes of canonical.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Sum is Hash(Canonicalize(f)).
func Sum(f Fields) (string, error) {
	c, err := Canonicalize(f)
	if err != nil {
		return "", err
	}
	return Hash(c), nil
}

// Normalize turns arbitrary JSON-able values (structs included) into plain
// maps, slices and json.Number, the shape a block's data has after it was
// stored and read back.
func Normalize(v map[string]any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := encode(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonicalize data: %w", err)
	}
	return out, nil
}

func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
