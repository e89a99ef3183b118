package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	require.NoError(t, err)

	l.Log(Event{SessionID: "s-1", Direction: DirectionInbound, EventType: "chat_message", Content: "add Durg location"})
	l.Log(Event{SessionID: "s-1", Direction: DirectionOutbound, EventType: "chat_response", Stage: "editing", Changes: 1})
	l.Log(Event{SessionID: "s-2", Direction: DirectionInbound, EventType: "chat_message", Content: "help"})
	require.NoError(t, l.Close())

	events := readEvents(t, filepath.Join(dir, "s-1.ndjson"))
	require.Len(t, events, 2)
	assert.Equal(t, "add Durg location", events[0].Content)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, 1, events[1].Changes)

	assert.Len(t, readEvents(t, filepath.Join(dir, "s-2.ndjson")), 1)
}

func TestPathIsConfinedToDir(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(dir, "___etc_passwd.ndjson"), l.Path("../etc/passwd"))
	assert.Equal(t, filepath.Join(dir, "unknown.ndjson"), l.Path(""))
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	l, err := New(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)

	l.Log(Event{SessionID: "s"})
	assert.Zero(t, l.Dropped())
	assert.NoError(t, l.Close())
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	l.Log(Event{SessionID: "late"})
	_, err = os.Stat(filepath.Join(dir, "late.ndjson"))
	assert.True(t, os.IsNotExist(err))
}
