package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherEmitsChange(t *testing.T) {
	dir := t.TempDir()

	w := NewWatcher(dir, 20*time.Millisecond)
	changes := make(chan ChangeEvent, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx, changes))
	defer w.Stop()

	path := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: override\n"), 0o644))

	select {
	case event := <-changes:
		assert.Equal(t, "override", event.Name)
		assert.Equal(t, OperationCreate, event.Operation)
		assert.Equal(t, path, event.FilePath)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatcherIgnoresNonProfileFiles(t *testing.T) {
	dir := t.TempDir()

	w := NewWatcher(dir, 20*time.Millisecond)
	changes := make(chan ChangeEvent, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx, changes))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case event := <-changes:
		t.Fatalf("unexpected event for non-profile file: %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMergeOperations(t *testing.T) {
	tests := []struct {
		old, new, want ChangeOperation
	}{
		{OperationCreate, OperationUpdate, OperationCreate},
		{OperationCreate, OperationDelete, OperationDelete},
		{OperationUpdate, OperationDelete, OperationDelete},
		{OperationUpdate, OperationUpdate, OperationUpdate},
		{OperationDelete, OperationCreate, OperationCreate},
	}

	for _, tt := range tests {
		if got := mergeOperations(tt.old, tt.new); got != tt.want {
			t.Errorf("mergeOperations(%s, %s) = %s, want %s", tt.old, tt.new, got, tt.want)
		}
	}
}

func TestWatcherStopTwice(t *testing.T) {
	w := NewWatcher(t.TempDir(), 0)
	ctx := context.Background()
	changes := make(chan ChangeEvent, 1)

	require.NoError(t, w.Start(ctx, changes))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
