package infra

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/taskmesh/infra/consts"
	"github.com/grand-thief-cash/taskmesh/infra/hooks"
)

func TestAppStartAndShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_info:
  app_name: taskmesh-test
logging:
  enabled: true
  level: warn
  output: stderr
prometheus:
  enabled: true
  namespace: taskmesh
  address: 127.0.0.1:0
`), 0o644))

	app := NewApp(consts.ENV_TEST, path)
	var started atomic.Bool
	require.NoError(t, app.AddHook("mark-started", hooks.AfterStart, func(ctx context.Context) error {
		started.Store(true)
		return nil
	}, 100))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunWithContext(ctx) }()

	require.Eventually(t, func() bool {
		c, err := app.GetComponent(consts.COMPONENT_PROMETHEUS)
		return err == nil && c.IsActive() && started.Load()
	}, 5*time.Second, 10*time.Millisecond)

	_, err := app.GetComponent(consts.COMPONENT_REDIS)
	assert.Error(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	lg, err := app.GetComponent(consts.COMPONENT_LOGGING)
	require.NoError(t, err)
	assert.False(t, lg.IsActive())
}

func TestAppBootFailsOnBadConfig(t *testing.T) {
	app := NewApp(consts.ENV_TEST, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, app.Start(context.Background()))
}
