// Package archive exports verified copies of the ledger to S3 so auditors
// hold evidence that does not depend on the live store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/ledger"
	"github.com/emoelevate/notesledger/internal/logging"
	"github.com/emoelevate/notesledger/internal/netx"
)

// Prefix is the key prefix of every snapshot object.
const Prefix = "ledger/"

// PresignExpiry is how long a presigned snapshot link stays valid.
const PresignExpiry = 15 * time.Minute

var (
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// ObjectAPI is the subset of *s3.Client the archiver uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient the archiver uses.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// NewClients builds the S3 client and its presigner. A non-empty
// baseEndpoint points them at an S3-compatible server such as MinIO.
func NewClients(cfg aws.Config, baseEndpoint string) (*s3.Client, *s3.PresignClient) {
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if baseEndpoint != "" {
			o.BaseEndpoint = aws.String(baseEndpoint)
			o.UsePathStyle = true
		}
	})
	return client, newS3PresignClient(client)
}

// Snapshot is the uploaded document.
type Snapshot struct {
	Key        string         `json:"-"`
	ExportedAt time.Time      `json:"exportedAt"`
	Head       string         `json:"head"`
	Blocks     []ledger.Block `json:"blocks"`
}

type Archiver struct {
	verifier *ledger.Verifier
	objects  ObjectAPI
	presign  Presigner
	bucket   string
	logger   logging.Logger
	now      func() time.Time
	http     *http.Client
}

func New(v *ledger.Verifier, objects ObjectAPI, presign Presigner, bucket string, logger logging.Logger) *Archiver {
	return &Archiver{
		verifier: v,
		objects:  objects,
		presign:  presign,
		bucket:   bucket,
		logger:   logger.With("module", "archive"),
		now:      time.Now,
	}
}

// Key is the object key of a snapshot exported at t with the given head.
func Key(t time.Time, head string) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s.json", Prefix, t.Year(), int(t.Month()), t.Day(), head)
}

// Snapshot verifies the ledger and uploads it. A ledger that fails
// verification is not uploaded.
func (a *Archiver) Snapshot(ctx context.Context) (Snapshot, error) {
	blocks, err := a.verifier.Blocks(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := ledger.Verify(blocks); err != nil {
		a.logger.Warn(ctx, "refusing to archive unverifiable ledger", "error", err)
		return Snapshot{}, fmt.Errorf("archive: %w", err)
	}

	snap := Snapshot{ExportedAt: a.now().UTC(), Head: ledger.Genesis, Blocks: blocks}
	if n := len(blocks); n > 0 {
		snap.Head = blocks[n-1].Hash
	}
	if snap.Blocks == nil {
		snap.Blocks = []ledger.Block{}
	}
	snap.Key = Key(snap.ExportedAt, snap.Head)

	body, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := a.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(snap.Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return Snapshot{}, fmt.Errorf("upload snapshot %s: %w", snap.Key, err)
	}

	a.logger.Info(ctx, "ledger archived", "key", snap.Key, "blocks", len(snap.Blocks), "head", snap.Head)
	return snap, nil
}

// PresignGet returns a time-limited download link for a snapshot key.
func (a *Archiver) PresignGet(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, Prefix) {
		return "", fmt.Errorf("%w: %q is not a snapshot key", common.ErrInvalidInput, key)
	}
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Fetch downloads a snapshot through a presigned link and verifies it.
func (a *Archiver) Fetch(ctx context.Context, key string) (Snapshot, error) {
	url, err := a.PresignGet(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	body, err := netx.DownloadPresignedURL(ctx, a.http, url)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot %s: %w", key, err)
	}
	snap, err := VerifySnapshot(body)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Key = key
	return snap, nil
}

// VerifySnapshot decodes an exported snapshot and checks its blocks and
// head offline.
func VerifySnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	sort.SliceStable(snap.Blocks, func(i, j int) bool { return snap.Blocks[i].Timestamp < snap.Blocks[j].Timestamp })
	if err := ledger.Verify(snap.Blocks); err != nil {
		return Snapshot{}, err
	}
	want := ledger.Genesis
	if n := len(snap.Blocks); n > 0 {
		want = snap.Blocks[n-1].Hash
	}
	if snap.Head != want {
		return Snapshot{}, fmt.Errorf("snapshot head %q does not name its last block %q", snap.Head, want)
	}
	return snap, nil
}
