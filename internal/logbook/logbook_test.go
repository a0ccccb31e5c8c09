package logbook

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/plugd/internal/lifecycle"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "startup.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := book.Info("entry-%d", i); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "nested", "startup.log"))
	require.NoError(t, err)
	lines, total := book.Tail(10)
	assert.Nil(t, lines)
	assert.Zero(t, total)
}

func TestRecordFormatsEvents(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	book, err := New(filepath.Join(t.TempDir(), "startup.log"), WithClock(mock))
	require.NoError(t, err)

	require.NoError(t, book.Record(lifecycle.Event{Kind: lifecycle.KindPluginSucceeded, Name: "db", Elapsed: 1500 * time.Millisecond}))
	require.NoError(t, book.Record(lifecycle.Event{Kind: lifecycle.KindPluginFailed, Name: "api", Err: errors.New("refused")}))
	require.NoError(t, book.Record(lifecycle.Event{Kind: lifecycle.KindAllReady, Name: lifecycle.ManagerName}))

	lines, total := book.Tail(10)
	require.Equal(t, 3, total)
	assert.Equal(t, "2024-03-01T12:00:00Z INFO  plugin-succeeded db ready in 1.5s", lines[0])
	assert.Equal(t, "2024-03-01T12:00:00Z ERROR plugin-failed api: refused", lines[1])
	assert.Equal(t, "2024-03-01T12:00:00Z INFO  all-ready", lines[2])
}

func TestConsumeStopsWhenChannelCloses(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "startup.log"))
	require.NoError(t, err)
	events := make(chan lifecycle.Event, 2)
	events <- lifecycle.Event{Kind: lifecycle.KindBeforeProcessStart, Name: lifecycle.ManagerName}
	events <- lifecycle.Event{Kind: lifecycle.KindAfterProcessStart, Name: lifecycle.ManagerName}
	close(events)

	require.NoError(t, book.Consume(context.Background(), events))
	lines, total := book.Tail(5)
	require.Equal(t, 2, total)
	assert.Contains(t, lines[0], "before-process-start")
	assert.Contains(t, lines[1], "after-process-start")
}

func TestNilLogbookIsInert(t *testing.T) {
	var book *Logbook
	assert.Empty(t, book.Path())
	assert.NoError(t, book.Info("ignored"))
	lines, total := book.Tail(1)
	assert.Nil(t, lines)
	assert.Zero(t, total)
}
