package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_State(t *testing.T) {
	dir := t.TempDir()
	f := &Files{StateDir: filepath.Join(dir, "state")}

	state, err := f.Load("acct-1")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, f.Save("acct-1", []byte(`{"cookies":[]}`)))
	require.NoError(t, f.Save("acct-1", []byte(`{"cookies":["a=1"]}`)))

	state, err = f.Load("acct-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookies":["a=1"]}`, string(state))

	entries, err := os.ReadDir(f.StateDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFiles_RejectsPathsInIDs(t *testing.T) {
	f := &Files{StateDir: t.TempDir(), ScreenshotDir: t.TempDir()}
	for _, id := range []string{"", ".", "..", "../etc", `a\b`} {
		_, err := f.Load(id)
		assert.Error(t, err, id)
		assert.Error(t, f.Save(id, nil), id)
		_, err = f.SaveScreenshot(id, nil)
		assert.Error(t, err, id)
	}
}

func TestFiles_Screenshot(t *testing.T) {
	f := &Files{
		ScreenshotDir: filepath.Join(t.TempDir(), "shots"),
		Now:           func() time.Time { return time.Date(2025, 4, 5, 6, 7, 8, 0, time.FixedZone("EST", -5*3600)) },
	}
	path, err := f.SaveScreenshot("acct-1", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "acct-1-20250405T110708.000Z.png", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}
