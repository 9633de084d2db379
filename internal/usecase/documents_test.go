package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	body string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func newLoader(f *fakeFetcher, sanitize bool) *DocumentLoader {
	return NewDocumentLoader(f, sanitize, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDocumentLoader_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.opml")
	require.NoError(t, os.WriteFile(path, []byte("<opml/>"), 0o600))
	f := &fakeFetcher{}

	data, err := newLoader(f, false).Load(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "<opml/>", string(data))
	assert.Empty(t, f.urls)
}

func TestDocumentLoader_LoadURL(t *testing.T) {
	f := &fakeFetcher{body: "<opml>remote</opml>"}

	data, err := newLoader(f, false).Load(context.Background(), "https://www.example.com/subs.opml")

	require.NoError(t, err)
	assert.Equal(t, "<opml>remote</opml>", string(data))
	assert.Equal(t, []string{"https://www.example.com/subs.opml"}, f.urls)
}

func TestDocumentLoader_LoadErrors(t *testing.T) {
	_, err := newLoader(&fakeFetcher{}, false).Load(context.Background(), filepath.Join(t.TempDir(), "missing.opml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.opml")

	_, err = newLoader(&fakeFetcher{err: errors.New("timeout")}, false).Load(context.Background(), "http://example.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load example.com")
}

func TestDocumentLoader_OpenPlain(t *testing.T) {
	rc, err := newLoader(&fakeFetcher{}, false).Open([]byte("a & b"))
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a & b", string(data))
}

func TestDocumentLoader_OpenSanitized(t *testing.T) {
	rc, err := newLoader(&fakeFetcher{}, true).Open([]byte(`<outline text="Tom & Jerry" xmlUrl="https://a.example/rss" />`))
	require.NoError(t, err)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tom &amp; Jerry")

	name := rc.(interface{ Name() string }).Name()
	require.NoError(t, rc.Close())
	_, statErr := os.Stat(name)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "example.com", documentName("https://www.example.com/a.opml"))
	assert.Equal(t, "subs.opml", documentName("/tmp/dir/subs.opml"))
	assert.Equal(t, "unknown", documentName("https://"))
}
