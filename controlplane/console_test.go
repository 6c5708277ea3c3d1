package controlplane

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/internal/config"
	"github.com/yairfalse/cirrus/internal/emitter"
	"github.com/yairfalse/cirrus/internal/plugin/offline"
	"github.com/yairfalse/cirrus/pkg/resource"
)

var (
	apiKey = resource.Key{
		Family: resource.FamilyService, Region: "us-west-2", Group: "workflow-prod", ID: "workflow-prod/workflow-api",
	}
	workerKey = resource.Key{
		Family: resource.FamilyService, Region: "us-west-2", Group: "workflow-prod", ID: "workflow-prod/workflow-worker",
	}
	postgresKey = resource.Key{Family: resource.FamilyDatabase, Region: "us-west-2", ID: "workflow-postgres"}
	bucketKey   = resource.Key{Family: resource.FamilyBucket, Region: "us-west-2", ID: "workflow-frontend"}
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode = config.ModeOffline
	cfg.Discovery.Interval = 10 * time.Millisecond
	cfg.Discovery.Auto = false
	return cfg
}

func newTestConsole(t *testing.T, opts BuildOptions) *Console {
	t.Helper()
	c, err := Build(context.Background(), offlineConfig(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ═══════════════════════════════════════════════════════════════════
// Discovery
// ═══════════════════════════════════════════════════════════════════

func TestDiscoverAllResources_DemoEstate(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	all := c.DiscoverAllResources(context.Background())

	for _, f := range resource.Families() {
		assert.Contains(t, all, f)
		assert.NotEmpty(t, all[f], "family %s", f)
	}
	assert.Len(t, all[resource.FamilyService], 2)
	assert.Len(t, all[resource.FamilyCache], 2)
}

func TestCachedResources(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	_, ok := c.CachedResources()
	assert.False(t, ok, "nothing cached before first discovery")

	c.DiscoverAllResources(context.Background())
	snap, ok := c.CachedResources()
	require.True(t, ok)
	assert.Equal(t, 10, snap.Count())
}

func TestDisabledFamilyDiscoversEmpty(t *testing.T) {
	cfg := offlineConfig()
	cfg.Discovery.Disabled = []string{string(resource.FamilyNetwork)}
	c, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	snap := c.Discover(context.Background())
	assert.Empty(t, snap.Resources[resource.FamilyNetwork])
	assert.Contains(t, snap.Failed, resource.FamilyNetwork)
	assert.NotEmpty(t, snap.Resources[resource.FamilyService])
}

func TestResolveResource(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	r, err := c.ResolveResource(context.Background(), postgresKey)
	require.NoError(t, err)
	assert.Equal(t, "workflow-postgres", r.Name)

	_, err = c.ResolveResource(context.Background(), resource.Key{
		Family: resource.FamilyDatabase, Region: "us-west-2", ID: "missing",
	})
	assert.ErrorIs(t, err, resource.ErrNotFound)
}

// ═══════════════════════════════════════════════════════════════════
// Actions
// ═══════════════════════════════════════════════════════════════════

func TestExecuteAction_ScaleRecordedAndVisible(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})
	ctx := context.Background()

	cmd, err := c.ExecuteAction(ctx, apiKey, resource.ServiceAction{
		Kind:   resource.ActionScale,
		Params: resource.Params{Count: resource.Int32(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, resource.CommandCompleted, cmd.State)

	history := c.GetCommandHistory()
	require.Len(t, history, 1)
	assert.Equal(t, cmd.ID, history[0].ID)

	got, ok := c.GetCommand(cmd.ID)
	require.True(t, ok)
	assert.Equal(t, apiKey, got.Target)

	c.DiscoverAllResources(ctx)
	r, err := c.ResolveResource(ctx, apiKey)
	require.NoError(t, err)
	assert.Equal(t, int32(4), r.Attrs.(resource.ServiceAttrs).DesiredCount)
}

func TestExecuteAction_UnsupportedFamilyRecordedFailed(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	cmd, err := c.ExecuteAction(context.Background(), bucketKey, resource.ServiceAction{Kind: resource.ActionStop})
	require.ErrorIs(t, err, resource.ErrUnsupportedFamily)
	assert.Equal(t, resource.CommandFailed, cmd.State)

	history := c.GetCommandHistory()
	require.Len(t, history, 1)
	assert.Equal(t, resource.CommandFailed, history[0].State)
}

func TestExecuteAction_RestartSchedulesScaleBack(t *testing.T) {
	mc := clock.NewManual(epoch)
	c := newTestConsole(t, BuildOptions{Clock: mc})

	cmd, err := c.ExecuteAction(context.Background(), workerKey, resource.ServiceAction{Kind: resource.ActionRestart})
	require.NoError(t, err)
	assert.Equal(t, "restart initiated", cmd.Result["message"])
	require.Len(t, c.PendingTasks(), 1)

	mc.Advance(5 * time.Second)

	assert.Empty(t, c.PendingTasks())
	history := c.GetCommandHistory()
	require.Len(t, history, 2)
	assert.Equal(t, resource.ActionScale, history[0].Action.Kind)
	assert.Equal(t, cmd.ID, history[0].ParentID)
}

func TestCancelTask(t *testing.T) {
	mc := clock.NewManual(epoch)
	c := newTestConsole(t, BuildOptions{Clock: mc})

	_, err := c.ExecuteAction(context.Background(), workerKey, resource.ServiceAction{Kind: resource.ActionRestart})
	require.NoError(t, err)
	tasks := c.PendingTasks()
	require.Len(t, tasks, 1)

	assert.True(t, c.CancelTask(tasks[0].ID))
	mc.Advance(time.Minute)
	assert.Len(t, c.GetCommandHistory(), 1, "cancelled scale-back never runs")
}

func TestExecuteBatchAction_OneFailureDoesNotAbortOthers(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})
	ctx := context.Background()

	resources := []resource.Resource{
		{Family: resource.FamilyService, ID: "workflow-prod/workflow-api", Region: "us-west-2", Group: "workflow-prod"},
		{Family: resource.FamilyService, ID: "workflow-prod/ghost", Region: "us-west-2", Group: "workflow-prod"},
		{Family: resource.FamilyService, ID: "workflow-prod/workflow-worker", Region: "us-west-2", Group: "workflow-prod"},
	}
	result := c.ExecuteBatchAction(ctx, resources, resource.ServiceAction{Kind: resource.ActionStop})

	assert.Equal(t, []resource.Key{apiKey, workerKey}, result.Successful)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "workflow-prod/ghost", result.Failed[0].Target.ID)
	assert.Len(t, c.GetCommandHistory(), 3)
}

// ═══════════════════════════════════════════════════════════════════
// Metrics, health, cost
// ═══════════════════════════════════════════════════════════════════

func TestGetResourceMetrics_EstimatedOffline(t *testing.T) {
	c := newTestConsole(t, BuildOptions{Clock: clock.NewManual(epoch)})

	r, err := c.ResolveResource(context.Background(), postgresKey)
	require.NoError(t, err)

	m := c.GetResourceMetrics(context.Background(), r)
	assert.Equal(t, resource.SourceEstimated, m.Source)
	assert.Equal(t, float64(100), m.StorageGB)
	assert.Greater(t, m.EstimatedDailyCostUSD, 0.0)
}

func TestGetSystemHealth(t *testing.T) {
	c := newTestConsole(t, BuildOptions{Clock: clock.NewManual(epoch)})

	report := c.GetSystemHealth(context.Background())

	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 9, report.Good, "the stopped bastion is not good")
	assert.NotEqual(t, resource.HealthHealthy, report.Overall)
	assert.Len(t, report.PerResource, 10)
}

func TestGetCostAnalysis(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	analysis := c.GetCostAnalysis(context.Background())

	assert.Len(t, analysis.PerResource, 10)
	assert.Greater(t, analysis.DailyTotal, 0.0)
	assert.InDelta(t, analysis.DailyTotal*30, analysis.MonthlyTotal, 0.05)
	assert.Equal(t, 0.0, analysis.PerFamily[resource.FamilyNetwork])
	assert.Greater(t, analysis.PerFamily[resource.FamilyDatabase], analysis.PerFamily[resource.FamilyBucket])
}

// ═══════════════════════════════════════════════════════════════════
// Lifecycle and wiring
// ═══════════════════════════════════════════════════════════════════

func TestAutoDiscovery_StartStop(t *testing.T) {
	c := newTestConsole(t, BuildOptions{})

	assert.True(t, c.StartAutoDiscovery(context.Background()))
	assert.False(t, c.StartAutoDiscovery(context.Background()), "already running")

	require.Eventually(t, func() bool {
		_, ok := c.CachedResources()
		return ok
	}, time.Second, 5*time.Millisecond)

	c.StopAutoDiscovery()
	assert.False(t, c.AutoDiscovery().Running)
	assert.GreaterOrEqual(t, c.AutoDiscovery().Runs, int64(1))
}

func TestBuild_DefaultConfigStartsAutoDiscovery(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeOffline

	c, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.True(t, c.AutoDiscovery().Running)
	require.Eventually(t, func() bool { return c.AutoDiscovery().Runs > 0 }, time.Second, 5*time.Millisecond,
		"first pass runs immediately")
	_, ok := c.CachedResources()
	assert.True(t, ok)
	assert.False(t, c.StartAutoDiscovery(context.Background()), "already running")

	require.NoError(t, c.Close())
	assert.False(t, c.AutoDiscovery().Running)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := Build(context.Background(), offlineConfig(), BuildOptions{})
	require.NoError(t, err)
	c.StartAutoDiscovery(context.Background())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.AutoDiscovery().Running)
}

func TestBuild_PersistentHistoryAndJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := offlineConfig()
	cfg.History.Backend = config.BackendBolt
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.History.JournalDir = filepath.Join(dir, "journal")

	first, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	cmd, err := first.ExecuteAction(context.Background(), postgresKey, resource.ServiceAction{Kind: resource.ActionSnapshot})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	history := second.GetCommandHistory()
	require.Len(t, history, 1)
	assert.Equal(t, cmd.ID, history[0].ID)

	entries, err := os.ReadDir(cfg.History.JournalDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestBuild_FileHistory(t *testing.T) {
	cfg := offlineConfig()
	cfg.History.Backend = config.BackendFile
	cfg.History.Path = filepath.Join(t.TempDir(), "history.json")

	c, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.ExecuteAction(context.Background(), apiKey, resource.ServiceAction{Kind: resource.ActionStop})
	require.NoError(t, err)
	_, err = os.Stat(cfg.History.Path)
	assert.NoError(t, err)
}

func TestBuild_RedisMetricsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := offlineConfig()
	cfg.Metrics.RedisURL = "redis://" + mr.Addr()

	c, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	r, err := c.ResolveResource(context.Background(), postgresKey)
	require.NoError(t, err)
	c.GetResourceMetrics(context.Background(), r)

	assert.NotEmpty(t, mr.Keys())
}

func TestBuild_ChangeEventsPublishedToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := offlineConfig()
	cfg.Events.RedisURL = "redis://" + mr.Addr()
	cfg.Events.Channel = "estate"
	ctx := context.Background()

	c, err := Build(ctx, cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, "estate")
	defer func() { _ = sub.Close() }()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.True(t, c.StartAutoDiscovery(ctx))
	require.Eventually(t, func() bool { return c.AutoDiscovery().Runs > 0 }, time.Second, 5*time.Millisecond)

	_, err = c.ExecuteAction(ctx, postgresKey, resource.ServiceAction{Kind: resource.ActionStop})
	require.NoError(t, err)

	select {
	case m := <-sub.Channel():
		assert.Contains(t, m.Payload, `"type":"modified"`)
		assert.Contains(t, m.Payload, "workflow-postgres")
	case <-time.After(2 * time.Second):
		t.Fatal("no change event published")
	}
}

func TestBuild_UnreachableRedisFails(t *testing.T) {
	cfg := offlineConfig()
	cfg.Metrics.RedisURL = "redis://127.0.0.1:1"

	_, err := Build(context.Background(), cfg, BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open metrics cache")
}

func TestBuild_CustomFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "estate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources:
  - family: managed-database
    id: only
    region: eu-west-1
    status: available
`), 0o644))

	cfg := offlineConfig()
	cfg.Offline.Fixtures = path
	c, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	snap := c.Discover(context.Background())
	assert.Equal(t, 1, snap.Count())
}

type recordedAction struct {
	family, kind, state string
}

type mockActionRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (m *mockActionRecorder) RecordAction(_ context.Context, family, kind, state string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, recordedAction{family, kind, state})
}

func TestNew_RecordsActions(t *testing.T) {
	cloud, err := offline.New(offline.Demo())
	require.NoError(t, err)
	base := newTestConsole(t, BuildOptions{Source: cloud})

	rec := &mockActionRecorder{}
	c, err := New(Parts{
		Registry: base.registry,
		Engine:   base.engine,
		History:  base.history,
		Metrics:  base.metrics,
		Actions:  rec,
	})
	require.NoError(t, err)

	_, err = c.ExecuteAction(context.Background(), postgresKey, resource.ServiceAction{Kind: resource.ActionStop})
	require.NoError(t, err)
	_, err = c.ExecuteAction(context.Background(), bucketKey, resource.ServiceAction{Kind: resource.ActionStop})
	require.Error(t, err)

	assert.Equal(t, []recordedAction{
		{"managed-database", "stop", "completed"},
		{"object-store", "stop", "failed"},
	}, rec.actions)
}

// mockEmitter implements emitter.Emitter for testing.
type mockEmitter struct {
	mu     sync.Mutex
	events []emitter.Event
	closed int
}

func (m *mockEmitter) Emit(_ context.Context, event emitter.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return errors.New("sink unavailable")
}

func (m *mockEmitter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockEmitter) passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestNew_EventsReceivePassesAndAreClosed(t *testing.T) {
	base := newTestConsole(t, BuildOptions{})
	sink := &mockEmitter{}
	c, err := New(Parts{
		Registry: base.registry,
		Engine:   base.engine,
		History:  base.history,
		Metrics:  base.metrics,
		Interval: 10 * time.Millisecond,
		Events:   sink,
	})
	require.NoError(t, err)

	require.True(t, c.StartAutoDiscovery(context.Background()))
	require.Eventually(t, func() bool { return sink.passes() >= 2 }, time.Second, 5*time.Millisecond,
		"emit errors never stop discovery")

	require.NoError(t, c.Close())
	assert.Equal(t, 1, sink.closed)
	assert.Nil(t, sink.events[0].Changes, "first pass is the baseline")
	assert.NotNil(t, sink.events[1].Changes)
}

func TestNew_RequiresParts(t *testing.T) {
	_, err := New(Parts{})
	require.Error(t, err)
}

func TestBuild_OfflineFaultSurfacesAsProviderError(t *testing.T) {
	cloud, err := offline.New(offline.Demo())
	require.NoError(t, err)
	cloud.SetFault(apiKey, "ThrottlingException: Rate exceeded")
	c := newTestConsole(t, BuildOptions{Source: cloud})

	cmd, err := c.ExecuteAction(context.Background(), apiKey, resource.ServiceAction{
		Kind: resource.ActionScale, Params: resource.Params{Count: resource.Int32(3)},
	})
	require.Error(t, err)
	var pe *resource.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, resource.CommandFailed, cmd.State)
	assert.Contains(t, c.GetCommandHistory()[0].Error, "Rate exceeded")
}
