package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/teleporter"
	"github.com/agentstation/teleporter/pkg/reconcile/reconciletest"
	"github.com/agentstation/teleporter/pkg/state"
)

func writeBindings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teleporter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  ci:
    files:
      - .github/workflows/test.yml
repositories:
  acme/api: ci
`), 0o644))
	return path
}

func newTestApp(t *testing.T, config *Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithConfig(config)}, opts...)
	application, err := New("test", "none", "none", opts...)
	require.NoError(t, err)
	return application
}

func TestNewAppDefaults(t *testing.T) {
	application, err := New("1.2.3", "abc", "today")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", application.Version())
	assert.NotNil(t, application.Config())
	assert.NotNil(t, application.Logger())
}

func TestOpenStoreBackends(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		backend string
		path    string
		wantErr bool
	}{
		{name: "default is memory", backend: ""},
		{name: "memory", backend: "memory"},
		{name: "sqlite", backend: "sqlite", path: filepath.Join(dir, "state.db")},
		{name: "fs", backend: "fs", path: filepath.Join(dir, "records")},
		{name: "unknown", backend: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			application := newTestApp(t, &Config{StoreBackend: tt.backend, StorePath: tt.path})
			store, err := application.openStore()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Implements(t, (*state.Store)(nil), store)
			require.NoError(t, application.Shutdown(context.Background()))
		})
	}
}

func TestGatewayRequiresMasterRepository(t *testing.T) {
	application := newTestApp(t, &Config{})
	_, err := application.Gateway()
	require.Error(t, err)
}

func TestSyncCommandEndToEnd(t *testing.T) {
	gw := reconciletest.NewGateway()
	gw.SetMaster("ci", ".github/workflows/test.yml", []byte("pipeline v1"))

	tp, err := teleporter.New(
		teleporter.WithGateway(gw),
		teleporter.WithBindingsFile(writeBindings(t)),
	)
	require.NoError(t, err)

	application := newTestApp(t, &Config{Quiet: true},
		WithGateway(gw),
		WithTeleporter(tp),
	)

	err = application.Execute(context.Background(), []string{"sync", "ci"})
	require.NoError(t, err)

	content, ok := gw.Target("acme/api", ".github/workflows/test.yml")
	require.True(t, ok)
	assert.Equal(t, []byte("pipeline v1"), content)
	assert.Equal(t, 1, gw.SubmitCount())
}

func TestStatusCommandUnknownCategory(t *testing.T) {
	gw := reconciletest.NewGateway()
	tp, err := teleporter.New(
		teleporter.WithGateway(gw),
		teleporter.WithBindingsFile(writeBindings(t)),
	)
	require.NoError(t, err)

	application := newTestApp(t, &Config{Quiet: true},
		WithGateway(gw),
		WithTeleporter(tp),
	)

	err = application.Execute(context.Background(), []string{"status", "nope"})
	require.Error(t, err)
}

func TestDetermineLogLevel(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{name: "default", want: "info"},
		{name: "verbose", config: Config{Verbose: true}, want: "debug"},
		{name: "quiet", config: Config{Quiet: true}, want: "warn"},
		{name: "both prefers quiet", config: Config{Verbose: true, Quiet: true}, want: "warn"},
		{name: "explicit wins", config: Config{Verbose: true, LogLevel: "error"}, want: "error"},
		{name: "invalid falls back", config: Config{LogLevel: "loud"}, want: "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineLogLevel(&tt.config))
		})
	}
}
