package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// exerciseFiles runs the same contract against every backend
func exerciseFiles(t *testing.T, files sdk.Files) {
	ctx := context.Background()

	require.NoError(t, files.Put(ctx, "exports/2024/jan.csv", strings.NewReader("a,b")))
	require.NoError(t, files.Put(ctx, "exports/2024/feb.csv", strings.NewReader("c,d")))
	require.NoError(t, files.Put(ctx, "state.json", strings.NewReader("{}")))
	require.NoError(t, files.Put(ctx, "state.json", strings.NewReader(`{"v":2}`)))

	rc, err := files.Get(ctx, "exports/2024/jan.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b", readAll(t, rc))

	rc, err = files.Get(ctx, "./state.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, readAll(t, rc))

	keys, err := files.List(ctx, "exports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/2024/feb.csv", "exports/2024/jan.csv"}, keys)

	require.NoError(t, files.Delete(ctx, "exports/2024/feb.csv"))
	_, err = files.Get(ctx, "exports/2024/feb.csv")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	for _, bad := range []string{"", "/etc/passwd", "../other-module/secret", "a/../../b"} {
		assert.ErrorIs(t, files.Put(ctx, bad, strings.NewReader("x")), ErrInvalidKey, bad)
		_, err := files.Get(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestS3Files(t *testing.T) {
	api := newFakeS3()
	files := NewS3Files(api, "modhost", "billing-sync")
	exerciseFiles(t, files)

	// Other modules' objects are invisible
	api.objects["modules/reports/state.json"] = []byte("{}")
	keys, err := files.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/2024/jan.csv", "state.json"}, keys)

	assert.Contains(t, api.objects, "modules/billing-sync/state.json")
	assert.Len(t, api.meta["modules/billing-sync/state.json"]["checksum-sha256"], 64)
	assert.NoError(t, files.HealthCheck(context.Background()))
}

func TestLocalFiles(t *testing.T) {
	root := t.TempDir()
	files := NewLocalFiles(root, "billing-sync")

	keys, err := files.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys, "listing before the first write")

	exerciseFiles(t, files)

	other := NewLocalFiles(root, "reports")
	keys, err = other.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.NoError(t, files.Delete(context.Background(), "never-written"))
}

func TestNewHTTPClient(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient("billing-sync", 5*time.Second, nil)
	assert.Equal(t, 5*time.Second, client.Timeout)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "spoofed")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "modhost-module/billing-sync", gotAgent)
	assert.Equal(t, "spoofed", req.Header.Get("User-Agent"), "caller's request is not mutated")
}

func TestWebhookNotifier(t *testing.T) {
	var got sdk.Notification
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	msg := sdk.Notification{Channel: "ops", Subject: "Sync failed", Body: "3 invoices rejected", Metadata: map[string]string{"module": "billing-sync"}}
	require.NoError(t, n.Notify(context.Background(), msg))
	assert.Equal(t, msg, got)

	status = http.StatusInternalServerError
	err := n.Notify(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	assert.Error(t, NewWebhookNotifier("http://127.0.0.1:1", nil).Notify(context.Background(), msg))
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}

type triggerFunc func(ctx context.Context, module, job string) error

func (f triggerFunc) Trigger(ctx context.Context, module, job string) error { return f(ctx, module, job) }

func TestJobAutomation(t *testing.T) {
	var got []string
	a := NewJobAutomation(triggerFunc(func(ctx context.Context, module, job string) error {
		if job == "broken" {
			return errors.New("dispatch failed")
		}
		got = append(got, module+"/"+job)
		return nil
	}))

	out, err := a.Run(context.Background(), "billing-sync/nightly", nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly", out["job"])
	assert.Equal(t, []string{"billing-sync/nightly"}, got)

	_, err = a.Run(context.Background(), "billing-sync/broken", nil)
	assert.EqualError(t, err, "dispatch failed")

	for _, task := range []string{"nightly", "/nightly", "billing-sync/"} {
		_, err := a.Run(context.Background(), task, nil)
		assert.Error(t, err, task)
	}
}
