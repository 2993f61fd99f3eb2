// Package ledger is the append-only, hash-linked log of note events stored
// under notesBlockchain/. Each block commits to its predecessor's hash, so
// rewriting or reordering history is detectable by Verifier.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/emoelevate/notesledger/internal/canon"
	"github.com/emoelevate/notesledger/internal/kv"
)

const (
	// Root is the store path holding every block and the head pointers.
	Root = "notesBlockchain"
	// HeadKey holds the hash of the most recent block.
	HeadKey = "latestHash"
	// TimestampKey holds the timestamp of the most recent block.
	TimestampKey = "latestTimestamp"
	// Genesis is the previousHash of the first block.
	Genesis = "0"
)

var (
	HeadPath      = kv.Join(Root, HeadKey)
	TimestampPath = kv.Join(Root, TimestampKey)
)

// BlockPath is the store path of the block appended at ts.
func BlockPath(ts int64) string {
	return kv.Join(Root, strconv.FormatInt(ts, 10))
}

// Block is one ledger entry.
type Block struct {
	PreviousHash string         `json:"previousHash"`
	Timestamp    int64          `json:"timestamp"`
	Data         map[string]any `json:"data"`
	TherapistID  string         `json:"therapistId"`
	SessionID    string         `json:"sessionId"`
	Hash         string         `json:"hash"`
}

func (b Block) fields() canon.Fields {
	return canon.Fields{
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Data:         b.Data,
		TherapistID:  b.TherapistID,
		SessionID:    b.SessionID,
	}
}

// ComputeHash recomputes the hash of b from its logical fields.
func (b Block) ComputeHash() (string, error) {
	return canon.Sum(b.fields())
}

// DataString returns data[key] when it is a string.
func (b Block) DataString(key string) string {
	s, _ := b.Data[key].(string)
	return s
}

func decodeBlock(raw []byte) (Block, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var b Block
	if err := dec.Decode(&b); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	return b, nil
}

// decodeHead reads a stored head hash. Values are JSON strings; a bare hash
// written by an older client is accepted as is.
func decodeHead(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// isBlockKey reports whether a child of Root names a block rather than a
// pointer entry.
func isBlockKey(key string) bool {
	_, err := strconv.ParseInt(key, 10, 64)
	return err == nil
}
