package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
)

func TestFileMirror(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	m, err := New(context.Background(), config.MirrorConfig{URL: "file://" + dir}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Put(context.Background(), "extractor_issues_1.jsonl", []byte("{\"id\":\"1\"}\n")))

	data, err := os.ReadFile(filepath.Join(dir, "extractor_issues_1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":\"1\"}\n", string(data))
}

func TestFileMirrorKeepsNamesInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFile(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, m.Put(context.Background(), "../escape.json", []byte("{}")))
	_, err = os.Stat(filepath.Join(dir, "escape.json"))
	assert.NoError(t, err)
}

func TestPlainPathIsFileMirror(t *testing.T) {
	dir := t.TempDir()
	m, err := New(context.Background(), config.MirrorConfig{URL: dir}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &File{}, m)
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := New(context.Background(), config.MirrorConfig{URL: "ftp://host/dir"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBucketRequired(t *testing.T) {
	_, err := NewS3(context.Background(), "", "", "", zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = NewGCS(context.Background(), "", "", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/x-ndjson", contentType("a.jsonl"))
	assert.Equal(t, "application/json", contentType("a.json"))
	assert.Equal(t, "application/octet-stream", contentType("a.gz"))
}
