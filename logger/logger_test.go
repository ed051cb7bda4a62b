package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZerologLogger(t *testing.T) {
	t.Run("writes service and fields as json", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "envserver", zerolog.InfoLevel)

		l.Info("session opened", Field{Key: "session", Value: 3})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "envserver", entry["service"])
		assert.Equal(t, "session opened", entry["message"])
		assert.Equal(t, float64(3), entry["session"])
	})

	t.Run("filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "envserver", zerolog.WarnLevel)

		l.Debug("hidden")
		l.Info("hidden")
		assert.Zero(t, buf.Len())

		l.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("With attaches fields without changing parent", func(t *testing.T) {
		var buf bytes.Buffer
		parent := NewZerologLogger(zerolog.New(&buf), "envserver", zerolog.InfoLevel)
		child := parent.With(Field{Key: "peer", Value: "127.0.0.1:5000"})

		child.Info("child")
		assert.Contains(t, buf.String(), "127.0.0.1:5000")

		buf.Reset()
		parent.Info("parent")
		assert.NotContains(t, buf.String(), "127.0.0.1:5000")
	})
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("nothing", Field{Key: "k", Value: "v"})
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	t.Run("empty means info", func(t *testing.T) {
		level, err := ParseLevel("")
		require.NoError(t, err)
		assert.Equal(t, zerolog.InfoLevel, level)
	})

	t.Run("names are case insensitive", func(t *testing.T) {
		level, err := ParseLevel("DEBUG")
		require.NoError(t, err)
		assert.Equal(t, zerolog.DebugLevel, level)
	})

	t.Run("unknown name is an error", func(t *testing.T) {
		_, err := ParseLevel("loud")
		assert.Error(t, err)
	})
}

func TestNewFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer

	l, err := NewFileLogger(&buf, "envserver", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("to both")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	name := filepath.Join(dir, "envserver_"+time.Now().Format(dateLayout)+".log")
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestDailyFileWriter_rotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)
	defer w.Close()

	first := w.CurrentLogFile()
	_, err = w.Write([]byte("day one\n"))
	require.NoError(t, err)

	w.mu.Lock()
	w.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	w.mu.Unlock()

	_, err = w.Write([]byte("day two\n"))
	require.NoError(t, err)

	second := w.CurrentLogFile()
	assert.NotEqual(t, first, second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "day two\n", string(data))
}

func TestDailyFileWriter_writeAfterClose(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
	assert.Empty(t, w.CurrentLogFile())
}
