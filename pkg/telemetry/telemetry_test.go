package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackWithoutInit(t *testing.T) {
	tr := Track("noinit")
	tr.Mark("step")
	tr.Finish()
	tr.Finish()
	assert.Len(t, tr.Steps, 1)
}

func TestSlowTracesAreWritten(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(Options{Dir: dir, SlowThreshold: time.Nanosecond, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	tr := tl.Track("chat.send")
	time.Sleep(time.Millisecond)
	tr.Mark("commit")
	tr.Finish()
	tl.Close()

	b, err := os.ReadFile(filepath.Join(dir, "chat.send.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"name":"chat.send"`)
	assert.Contains(t, lines[0], `"commit"`)
}

func TestFastTracesAreNotWritten(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(Options{Dir: dir, SlowThreshold: time.Hour})
	require.NoError(t, err)
	tl.Track("quick").Finish()
	tl.Close()

	_, err = os.Stat(filepath.Join(dir, "quick.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
