package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskPut(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, err := NewDisk(fs, "/clips", "http://localhost:8080/blobs/")
	require.NoError(t, err)

	url, err := d.Put(context.Background(), []byte("RIFF....WAVE"), "audio/wav")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/blobs/"), url)
	assert.True(t, strings.HasSuffix(url, ".wav"), url)

	key := strings.TrimPrefix(url, "http://localhost:8080/blobs/")
	got, err := afero.ReadFile(fs, filepath.Join("/clips", key))
	require.NoError(t, err)
	assert.Equal(t, "RIFF....WAVE", string(got))

	// no temp files left behind
	entries, err := afero.ReadDir(fs, "/clips")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskPutKeysAreUnique(t *testing.T) {
	d, err := NewDisk(afero.NewMemMapFs(), "/clips", "http://blobs")
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		url, err := d.Put(context.Background(), []byte{byte(i)}, "audio/ogg")
		require.NoError(t, err)
		assert.False(t, seen[url])
		seen[url] = true
	}
}

func TestDiskPutHonoursCancellation(t *testing.T) {
	fs := afero.NewMemMapFs()
	d, err := NewDisk(fs, "/clips", "http://blobs")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Put(ctx, []byte("x"), "audio/wav")
	require.ErrorIs(t, err, context.Canceled)

	entries, err := afero.ReadDir(fs, "/clips")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskPutOnReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll("/clips", 0o755))
	d := &Disk{fs: afero.NewReadOnlyFs(base), dir: "/clips", publicURL: "http://blobs"}

	_, err := d.Put(context.Background(), []byte("x"), "audio/wav")
	assert.Error(t, err)
}

func TestDiskHandlerServesStoredFiles(t *testing.T) {
	d, err := NewDisk(afero.NewMemMapFs(), "/clips", "http://blobs")
	require.NoError(t, err)
	url, err := d.Put(context.Background(), []byte("sound"), "audio/mpeg")
	require.NoError(t, err)

	srv := httptest.NewServer(http.StripPrefix("/blobs/", d.Handler()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/blobs/" + strings.TrimPrefix(url, "http://blobs/"))
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "sound", string(body))
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "floppy"})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Backend: BackendDisk, PublicURL: "http://blobs"})
	assert.Error(t, err, "disk needs a dir")
}

func TestS3Put(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path = r.Method, r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "eu-west-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	store := NewS3FromClient(client, "clips-bucket", "eu-west-1", "")

	url, err := store.Put(context.Background(), []byte("audio bytes"), "audio/wav")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/clips-bucket/clips/"), path)
	assert.True(t, strings.HasPrefix(url, "https://clips-bucket.s3.eu-west-1.amazonaws.com/clips/"), url)
	assert.True(t, strings.HasSuffix(url, ".wav"), url)
}

func TestS3PublicURLOverride(t *testing.T) {
	s := &S3{bucket: "b", region: "r", publicURL: "https://cdn.example.com/"}
	assert.Equal(t, "https://cdn.example.com/clips/x.ogg", s.objectURL("clips/x.ogg"))
}

func TestDiskHandlerHidesListingsAndTempFiles(t *testing.T) {
	mem := afero.NewMemMapFs()
	d, err := NewDisk(mem, "/clips", "http://blobs")
	require.NoError(t, err)
	_, err = d.Put(context.Background(), []byte("sound"), "audio/mpeg")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(mem, "/clips/half.mp3"+partSuffix, []byte("partial"), 0o644))
	require.NoError(t, mem.MkdirAll("/clips/nested", 0o755))

	srv := httptest.NewServer(http.StripPrefix("/blobs/", d.Handler()))
	defer srv.Close()

	for _, path := range []string{"/blobs/", "/blobs/nested/", "/blobs/half.mp3" + partSuffix} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode, path)
		assert.NotContains(t, string(body), ".mp3", path)
	}
}
