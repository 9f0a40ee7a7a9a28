package server_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge/config"
	"github.com/frobware/go-p4bridge/lock"
	"github.com/frobware/go-p4bridge/server"
)

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func newRunConfig(t *testing.T) server.RunConfig {
	t.Helper()
	dirs, err := config.NewRuntimeDirs(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Bridge.Listen = freeAddr(t)
	cfg.Bridge.Database = ":memory:"
	cfg.Switch.Target = "tcp:" + freeAddr(t)
	return server.RunConfig{Dirs: dirs, Config: cfg, Logger: testLogger()}
}

func runAsync(ctx context.Context, cfg server.RunConfig) <-chan error {
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, cfg) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := newRunConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, cfg)

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", cfg.Config.Bridge.Listen)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond, "P4Runtime listener comes up")

	cancel()
	assert.NoError(t, waitRun(t, done))
}

func TestRunReleasesEverythingWhenPprofAddressIsTaken(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := newRunConfig(t)
	cfg.PprofAddress = busy.Addr().String()

	err = waitRun(t, runAsync(context.Background(), cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pprof listen")

	lis, err := net.Listen("tcp", cfg.Config.Bridge.Listen)
	require.NoError(t, err, "the P4Runtime listener was closed")
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l, err := lock.Acquire(ctx, cfg.Dirs.Lock())
	require.NoError(t, err, "the instance lock was released")
	l.Release()
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := newRunConfig(t)
	cfg.Config.Bridge.Listen = ""
	err := waitRun(t, runAsync(context.Background(), cfg))
	assert.ErrorContains(t, err, "invalid configuration")
}
