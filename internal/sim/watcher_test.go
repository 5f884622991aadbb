package sim

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeviceWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instrument.yaml")
	require.NoError(t, os.WriteFile(path, []byte("docked: true\n"), 0o600))

	var calls atomic.Int32
	w, err := NewDeviceWatcher(path, func() { calls.Add(1) }, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte("docked: false\n"), 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
}
