package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-registry/internal/api"
	"github.com/JakeFAU/crawl-registry/internal/config"
	"github.com/JakeFAU/crawl-registry/internal/coordinator"
)

type fakeApp struct {
	cfg        config.Config
	report     coordinator.ReconcileReport
	reconcile  error
	reconciled string
	closed     bool
}

func (f *fakeApp) Close() { f.closed = true }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) GetLogger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) GetServer() *api.Server {
	return api.NewServer(nil, nil, nil, f.cfg, zap.NewNop())
}

func (f *fakeApp) Reconcile(_ context.Context, teamID string) (coordinator.ReconcileReport, error) {
	f.reconciled = teamID
	return f.report, f.reconcile
}

// useFakeApp swaps the factory for the duration of the test. Tests using it
// must not run in parallel.
func useFakeApp(t *testing.T, fake *fakeApp, factoryErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		if factoryErr != nil {
			return nil, factoryErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func TestReconcileCommandPrintsReport(t *testing.T) {
	fake := &fakeApp{report: coordinator.ReconcileReport{TeamID: "team-a", Checked: 3, Removed: 1, Moved: 1}}
	cfgPath := useFakeApp(t, fake, nil)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", "registry.yaml", "reconcile", "--team", "team-a"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, "registry.yaml", *cfgPath)
	require.Equal(t, "team-a", fake.reconciled)
	require.True(t, fake.closed)
	var got coordinator.ReconcileReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, fake.report, got)
}

func TestReconcileCommandRequiresTeam(t *testing.T) {
	useFakeApp(t, &fakeApp{}, nil)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "--team is required")
}

func TestReconcileCommandPropagatesFailure(t *testing.T) {
	useFakeApp(t, &fakeApp{reconcile: errors.New("redis down")}, nil)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile", "--team", "team-a"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "reconcile team team-a")
	require.ErrorContains(t, err, "redis down")
}

func TestRootCommandFactoryFailure(t *testing.T) {
	useFakeApp(t, nil, errors.New("bad config"))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"reconcile", "--team", "team-a"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "failed to initialize application services")
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	fake := &fakeApp{cfg: config.Config{Server: config.ServerConfig{Port: 0, ShutdownTimeout: time.Second}}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, fake) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
