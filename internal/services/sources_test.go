package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/store"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVSourceReadsAndNormalizes(t *testing.T) {
	path := writeCSV(t, "url\nhttps://example.com/signup\nexample.org\n\nhttps://example.com/signup\n")
	source := NewCSVSource(path, quietLogger())
	ctx := context.Background()

	first, err := source.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "https://example.com/signup", first.URL)
	assert.Equal(t, "csv", first.Source)

	second, err := source.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "https://example.org", second.URL, "bare domains default to https")

	// The duplicate row was dropped; the source is drained.
	third, err := source.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestCSVSourceSkipsNonURLRows(t *testing.T) {
	path := writeCSV(t, "website\nnot a url\nhttps://real.example.com\n")
	source := NewCSVSource(path, quietLogger())

	target, err := source.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "https://real.example.com", target.URL)
}

func TestCSVSourceMissingFile(t *testing.T) {
	source := NewCSVSource(filepath.Join(t.TempDir(), "missing.csv"), quietLogger())
	_, err := source.Next(context.Background())
	assert.Error(t, err)
}

func TestQueueSourceDrainsStore(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "queue.db"), quietLogger())
	require.NoError(t, err)
	defer st.Close()

	added, err := st.AddScrapedURLs([]models.TargetURL{
		{URL: "https://one.example.com", Source: "meta"},
		{URL: "https://two.example.com", Source: "meta"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	source := NewQueueSource(st, 1, quietLogger())
	ctx := context.Background()

	seen := map[string]bool{}
	for {
		target, err := source.Next(ctx)
		require.NoError(t, err)
		if target == nil {
			break
		}
		seen[target.URL] = true
		require.NoError(t, st.MarkURLProcessed(target.URL))
	}
	assert.Len(t, seen, 2)
}

func TestNormalizeTargetURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com/a", "https://example.com/a", true},
		{"example.com", "https://example.com", true},
		{"http://example.com", "http://example.com", true},
		{"garbage", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := normalizeTargetURL(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
