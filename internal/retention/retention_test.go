package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchiver(t *testing.T) *Archiver {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "Deleted_Data"), 30, nil)
	require.NoError(t, err)
	return a
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(`{"history":[]}`), 0644))
}

func TestArchive_MovesWithTimestamp(t *testing.T) {
	a := newArchiver(t)
	a.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	src := filepath.Join(t.TempDir(), "abc.json")
	writeFile(t, src)

	target, err := a.Archive(src, "abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Dir, "abc_20250304T050607Z.json"), target)
	assert.NoFileExists(t, src)
	assert.FileExists(t, target)
}

func TestArchive_SameSecondKeepsBoth(t *testing.T) {
	a := newArchiver(t)
	a.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	src := filepath.Join(t.TempDir(), "abc.json")

	var targets []string
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(src, []byte(fmt.Sprintf(`{"n":%d}`, i)), 0644))
		target, err := a.Archive(src, "abc")
		require.NoError(t, err)
		targets = append(targets, target)
	}

	assert.Equal(t, []string{
		filepath.Join(a.Dir, "abc_20250304T050607Z.json"),
		filepath.Join(a.Dir, "abc_20250304T050607Z-1.json"),
		filepath.Join(a.Dir, "abc_20250304T050607Z-2.json"),
	}, targets)
	for i, target := range targets {
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(data))
	}

	ok, err := a.DeleteNewest("abc", true)
	require.NoError(t, err)
	assert.True(t, ok, "suffixed archives still belong to the session")
}

func TestArchive_MissingFile(t *testing.T) {
	a := newArchiver(t)
	_, err := a.Archive(filepath.Join(t.TempDir(), "nope.json"), "nope")
	assert.Error(t, err)
}

func TestPurgeExpired(t *testing.T) {
	a := newArchiver(t)
	old := filepath.Join(a.Dir, "old_20200101T000000Z.json")
	fresh := filepath.Join(a.Dir, "fresh_20250101T000000Z.json")
	other := filepath.Join(a.Dir, "notes.txt")
	writeFile(t, old)
	writeFile(t, fresh)
	writeFile(t, other)

	past := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	n, err := a.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other, "only json archives are purged")
}

func TestDeleteNewest(t *testing.T) {
	a := newArchiver(t)
	older := filepath.Join(a.Dir, "s1_20240101T000000Z.json")
	newer := filepath.Join(a.Dir, "s1_20240201T000000Z.json")
	lookalike := filepath.Join(a.Dir, "s1_x_20240301T000000Z.json")
	for _, p := range []string{older, newer, lookalike} {
		writeFile(t, p)
	}
	base := time.Now()
	require.NoError(t, os.Chtimes(older, base.Add(-2*time.Hour), base.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(newer, base.Add(-time.Hour), base.Add(-time.Hour)))

	_, err := a.DeleteNewest("s1", false)
	assert.ErrorIs(t, err, ErrSingleDeleteDisabled)
	assert.FileExists(t, newer)

	ok, err := a.DeleteNewest("s1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, newer)
	assert.FileExists(t, older)
	assert.FileExists(t, lookalike)

	ok, err = a.DeleteNewest("missing", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSchedule(t *testing.T) {
	a := newArchiver(t)
	c, err := a.Schedule("@daily")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	c.Stop()

	_, err = a.Schedule("not a schedule")
	assert.Error(t, err)
}
