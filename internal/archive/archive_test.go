package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/emoelevate/notesledger/internal/kv"
	"github.com/emoelevate/notesledger/internal/kv/memkv"
	"github.com/emoelevate/notesledger/internal/ledger"
	"github.com/emoelevate/notesledger/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, in)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	base    string
	in      *s3.GetObjectInput
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.in, f.expires = in, opts.Expires
	base := f.base
	if base == "" {
		base = "https://s3.example"
	}
	return &v4.PresignedHTTPRequest{URL: base + "/" + aws.ToString(in.Key) + "?sig"}, nil
}

var exportTime = time.Date(2024, 3, 7, 23, 30, 0, 0, time.UTC)

func newArchiver(t *testing.T, blocks int) (*Archiver, *fakeObjects, *fakePresigner, *memkv.Store) {
	t.Helper()
	s := memkv.New()
	w := ledger.NewWriter(s, logging.Nop())
	for i := 0; i < blocks; i++ {
		_, err := w.Append(context.Background(), map[string]any{"sessionId": "s", "n": i}, "t", "s")
		require.NoError(t, err)
	}
	objects, presign := &fakeObjects{}, &fakePresigner{}
	a := New(ledger.NewVerifier(s, logging.Nop()), objects, presign, "audit-bucket", logging.Nop())
	a.now = func() time.Time { return exportTime }
	return a, objects, presign, s
}

func TestSnapshot_UploadsVerifiedLedger(t *testing.T) {
	a, objects, _, _ := newArchiver(t, 3)

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, objects.puts, 1)

	in := objects.puts[0]
	assert.Equal(t, "audit-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "ledger/2024/03/07/"+snap.Head+".json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))

	var got Snapshot
	require.NoError(t, json.Unmarshal(objects.body, &got))
	assert.Equal(t, snap.Head, got.Head)
	assert.True(t, exportTime.Equal(got.ExportedAt))
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, ledger.Genesis, got.Blocks[0].PreviousHash)
	assert.Equal(t, got.Blocks[2].Hash, got.Head)
}

func TestSnapshot_EmptyLedger(t *testing.T) {
	a, objects, _, _ := newArchiver(t, 0)

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.Genesis, snap.Head)
	assert.JSONEq(t, `{"exportedAt":"2024-03-07T23:30:00Z","head":"0","blocks":[]}`, string(objects.body))
}

func TestSnapshot_RefusesTamperedLedger(t *testing.T) {
	a, objects, _, s := newArchiver(t, 2)
	ctx := context.Background()

	children, err := s.Children(ctx, ledger.Root)
	require.NoError(t, err)
	for key, raw := range children {
		if key == ledger.HeadKey || key == ledger.TimestampKey {
			continue
		}
		var b map[string]any
		require.NoError(t, json.Unmarshal(raw, &b))
		b["therapistId"] = "intruder"
		out, err := json.Marshal(b)
		require.NoError(t, err)
		require.NoError(t, kv.Set(ctx, s, kv.Join(ledger.Root, key), out))
		break
	}

	_, err = a.Snapshot(ctx)
	var tampered *ledger.BlockTamperedError
	assert.ErrorAs(t, err, &tampered)
	assert.Empty(t, objects.puts)
}

func TestSnapshot_UploadError(t *testing.T) {
	a, objects, _, _ := newArchiver(t, 1)
	objects.err = errors.New("access denied")

	_, err := a.Snapshot(context.Background())
	assert.ErrorIs(t, err, objects.err)
}

func TestPresignGet(t *testing.T) {
	a, _, presign, _ := newArchiver(t, 0)

	url, err := a.PresignGet(context.Background(), "ledger/2024/03/07/abc.json")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example/ledger/2024/03/07/abc.json?sig", url)
	assert.Equal(t, PresignExpiry, presign.expires)
	assert.Equal(t, "audit-bucket", aws.ToString(presign.in.Bucket))

	_, err = a.PresignGet(context.Background(), "users/secret.json")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNewClients_AppliesEndpoint(t *testing.T) {
	origNew, origPre := newS3ClientFromConfig, newS3PresignClient
	t.Cleanup(func() { newS3ClientFromConfig, newS3PresignClient = origNew, origPre })

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}
	presignCalled := false
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		presignCalled = c != nil
		return &s3.PresignClient{}
	}

	client, pc := NewClients(aws.Config{Region: "eu-west-1"}, "http://127.0.0.1:9000")
	assert.NotNil(t, client)
	assert.NotNil(t, pc)
	assert.True(t, presignCalled)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
}

func TestKey(t *testing.T) {
	local := time.Date(2024, 1, 2, 1, 0, 0, 0, time.FixedZone("x", 3*3600))
	assert.Equal(t, "ledger/2024/01/01/h.json", Key(local, "h"))
}

func TestFetch_VerifiesDownloadedSnapshot(t *testing.T) {
	a, objects, presign, _ := newArchiver(t, 2)
	ctx := context.Background()
	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)

	served := objects.body
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+snap.Key {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(served)
	}))
	defer ts.Close()
	presign.base = ts.URL

	got, err := a.Fetch(ctx, snap.Key)
	require.NoError(t, err)
	assert.Equal(t, snap.Head, got.Head)
	assert.Len(t, got.Blocks, 2)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(objects.body, &doc))
	doc["head"] = "forged"
	served, err = json.Marshal(doc)
	require.NoError(t, err)
	_, err = a.Fetch(ctx, snap.Key)
	assert.ErrorContains(t, err, "does not name its last block")

	_, err = a.Fetch(ctx, "ledger/missing.json")
	assert.ErrorContains(t, err, "download failed: 404")
}

func TestVerifySnapshot_DetectsTampering(t *testing.T) {
	a, objects, _, _ := newArchiver(t, 2)
	_, err := a.Snapshot(context.Background())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(objects.body, &doc))
	blocks := doc["blocks"].([]any)
	blocks[0].(map[string]any)["sessionId"] = "other"
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	_, err = VerifySnapshot(body)
	var tampered *ledger.BlockTamperedError
	assert.ErrorAs(t, err, &tampered)

	_, err = VerifySnapshot([]byte("not json"))
	assert.ErrorContains(t, err, "decode snapshot")
}
