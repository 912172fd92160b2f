package enforcer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gajzzs/blocksites/internal/clock"
	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hosts"
	"github.com/gajzzs/blocksites/internal/log"
	"github.com/gajzzs/blocksites/internal/schema"
	"github.com/gajzzs/blocksites/internal/store"
)

const baseHosts = "127.0.0.1 localhost\n::1 localhost\n"

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type fakeFilter struct {
	loads   []string
	removes int
	loadErr error
}

func (f *fakeFilter) Load(_ context.Context, rules string) error {
	f.loads = append(f.loads, rules)
	return f.loadErr
}

func (f *fakeFilter) Remove(context.Context) error {
	f.removes++
	return nil
}

type fakeFlusher struct {
	flushes int
	err     error
}

func (f *fakeFlusher) Flush(context.Context) error {
	f.flushes++
	return f.err
}

type fakeScheduler struct {
	registered  bool
	registers   int
	unregisters   int
	registerErr   error
	unregisterErr error
}

func (s *fakeScheduler) Register(context.Context) error {
	s.registers++
	if s.registerErr != nil {
		return s.registerErr
	}
	s.registered = true
	return nil
}

func (s *fakeScheduler) Unregister(context.Context) error {
	s.unregisters++
	if s.unregisterErr != nil {
		return s.unregisterErr
	}
	s.registered = false
	return nil
}

func (s *fakeScheduler) Registered(context.Context) (bool, error) { return s.registered, nil }

type fixture struct {
	engine    *Engine
	store     *store.Store
	hostsPath string
	clock     *clock.MockClock
	filter    *fakeFilter
	flusher   *fakeFlusher
	sched     *fakeScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:     store.New(filepath.Join(dir, "state")),
		hostsPath: filepath.Join(dir, "hosts"),
		clock:     clock.NewMockClock(t0),
		filter:    &fakeFilter{},
		flusher:   &fakeFlusher{},
		sched:     &fakeScheduler{},
	}
	require.NoError(t, os.WriteFile(f.hostsPath, []byte(baseHosts), 0644))
	f.engine = New(Options{
		Store:     f.store,
		HostsPath: f.hostsPath,
		Marker:    hosts.DefaultMarker,
		Filter:    f.filter,
		Flusher:   f.flusher,
		Scheduler: f.sched,
		Clock:     f.clock,
		Logger:    log.NewNoopLogger(),
	})
	return f
}

func (f *fixture) configure(t *testing.T, sites ...string) (*schema.BlockConfiguration, *schema.IPCache) {
	t.Helper()
	cfg := &schema.BlockConfiguration{Sites: sites, StartTime: t0, EndTime: t0.Add(time.Hour)}
	cache := &schema.IPCache{
		IPs:         map[string][]string{sites[0]: {"104.244.42.1"}},
		DoHIPs:      []string{"1.1.1.1"},
		LastUpdated: t0,
	}
	require.NoError(t, f.store.SaveConfiguration(cfg))
	require.NoError(t, f.store.SaveIPCache(cache))
	return cfg, cache
}

func (f *fixture) hosts(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.hostsPath)
	require.NoError(t, err)
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPass_Idle(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, OutcomeIdle, f.engine.Pass(context.Background()))
	assert.Equal(t, baseHosts, f.hosts(t))
	assert.Empty(t, f.filter.loads)
	assert.Zero(t, f.filter.removes)
	assert.Zero(t, f.sched.unregisters)
}

func TestPass_EndToEnd(t *testing.T) {
	f := newFixture(t)
	_, cache := f.configure(t, "x.com")
	ctx := context.Background()
	want := hosts.Apply(baseHosts, []string{"x.com"}, hosts.DefaultMarker)

	// first pass writes and flushes
	f.clock.Set(t0.Add(30 * time.Minute))
	assert.Equal(t, OutcomeActive, f.engine.Pass(ctx))
	assert.Equal(t, want, f.hosts(t))
	assert.Equal(t, 1, f.flusher.flushes)
	assert.Equal(t, []string{firewall.Rules(cache)}, f.filter.loads)

	st, err := f.store.LoadState()
	require.NoError(t, err)
	assert.Equal(t, schema.EnforcerState{LastHostsHash: hosts.Hash(want), FirstRunDone: true}, st)

	// identical second pass: no write, no flush, rules reloaded anyway
	f.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeActive, f.engine.Pass(ctx))
	assert.Equal(t, want, f.hosts(t))
	assert.Equal(t, 1, f.flusher.flushes)
	assert.Len(t, f.filter.loads, 2)
	assert.True(t, f.store.HasConfiguration())

	// expiry tears everything down
	f.clock.Set(t0.Add(time.Hour + time.Second))
	require.NoError(t, f.store.BackupHosts(f.hostsPath))
	assert.Equal(t, OutcomeExpired, f.engine.Pass(ctx))

	assert.Equal(t, baseHosts, f.hosts(t))
	assert.Equal(t, 2, f.flusher.flushes)
	assert.Equal(t, 1, f.filter.removes)
	assert.Equal(t, 1, f.sched.unregisters)
	for _, p := range []string{f.store.ConfigPath(), f.store.IPCachePath(), f.store.BackupPath(), f.store.StatePath()} {
		assert.False(t, exists(p), p)
	}

	// and the next pass is idle
	assert.Equal(t, OutcomeIdle, f.engine.Pass(ctx))
	assert.Equal(t, 1, f.sched.unregisters)
}

func TestPass_RestoresTamperedHosts(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "reddit.com")
	ctx := context.Background()
	f.clock.Set(t0.Add(time.Minute))

	f.engine.Pass(ctx)
	want := f.hosts(t)

	// the user strips the block by hand
	require.NoError(t, os.WriteFile(f.hostsPath, []byte(hosts.Clean(want, hosts.DefaultMarker)), 0644))
	f.engine.Pass(ctx)
	assert.Equal(t, want, f.hosts(t))
	assert.Equal(t, 2, f.flusher.flushes)
}

func TestPass_RestoresDeletedHosts(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	f.clock.Set(t0.Add(time.Minute))
	f.engine.Pass(context.Background())

	require.NoError(t, os.Remove(f.hostsPath))
	f.engine.Pass(context.Background())
	assert.Equal(t, hosts.Generate([]string{"x.com"}, hosts.DefaultMarker), f.hosts(t))
}

func TestPass_KeepsUserEditsOutsideBlock(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	ctx := context.Background()
	f.clock.Set(t0.Add(time.Minute))
	f.engine.Pass(ctx)

	edited := "10.0.0.5 nas.local\n" + f.hosts(t)
	require.NoError(t, os.WriteFile(f.hostsPath, []byte(edited), 0644))
	f.engine.Pass(ctx)

	got := f.hosts(t)
	assert.True(t, strings.HasPrefix(got, "10.0.0.5 nas.local\n"))
	assert.Equal(t, 1, strings.Count(got, "# BLOCKSITES START"))
}

func TestPass_CollaboratorFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	f.filter.loadErr = errors.New("pfctl: syntax error")
	f.flusher.err = errors.New("dscacheutil missing")
	f.clock.Set(t0.Add(time.Minute))

	assert.Equal(t, OutcomeActive, f.engine.Pass(context.Background()))
	assert.Contains(t, f.hosts(t), "127.0.0.1 x.com # BLOCKSITES\n")

	st, err := f.store.LoadState()
	require.NoError(t, err)
	assert.True(t, st.FirstRunDone)
}

func TestPass_MissingIPCacheStillReappliesHosts(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	require.NoError(t, os.Remove(f.store.IPCachePath()))
	f.clock.Set(t0.Add(time.Minute))

	assert.Equal(t, OutcomeActive, f.engine.Pass(context.Background()))
	assert.Contains(t, f.hosts(t), "# BLOCKSITES START")
	assert.Empty(t, f.filter.loads)
}

func TestPass_UnreadableConfigIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.store.Dir(), 0755))
	require.NoError(t, os.WriteFile(f.store.ConfigPath(), []byte(`{"sites":["x.com"],"startTi`), 0644))

	assert.Equal(t, OutcomeUnreadable, f.engine.Pass(context.Background()))
	assert.True(t, f.store.HasConfiguration())
	assert.Zero(t, f.sched.unregisters)
	assert.Equal(t, baseHosts, f.hosts(t))
}

func TestPass_SkippedWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	lock, err := f.store.Lock()
	require.NoError(t, err)
	defer lock.Release()

	f.clock.Set(t0.Add(2 * time.Hour))
	assert.Equal(t, OutcomeSkipped, f.engine.Pass(context.Background()))
	assert.True(t, f.store.HasConfiguration())
}

func TestPass_ExpiredWithCleanHostsSkipsWrite(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	f.clock.Set(t0.Add(2 * time.Hour))

	assert.Equal(t, OutcomeExpired, f.engine.Pass(context.Background()))
	assert.Equal(t, baseHosts, f.hosts(t))
	assert.Zero(t, f.flusher.flushes)
	assert.Equal(t, 1, f.filter.removes)
	assert.Equal(t, 1, f.sched.unregisters)
	assert.False(t, f.store.HasConfiguration())
}

func TestPass_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")

	f.clock.Set(t0.Add(time.Hour - time.Nanosecond))
	assert.Equal(t, OutcomeActive, f.engine.Pass(context.Background()))

	f.clock.Set(t0.Add(time.Hour))
	assert.Equal(t, OutcomeExpired, f.engine.Pass(context.Background()))
}

func TestPass_FailedUnregisterIsRetried(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "x.com")
	f.sched.registered = true
	f.sched.unregisterErr = errors.New("launchctl: busy")
	ctx := context.Background()
	f.clock.Set(t0.Add(2 * time.Hour))

	assert.Equal(t, OutcomeExpired, f.engine.Pass(ctx))
	assert.True(t, f.store.HasConfiguration())
	assert.True(t, f.sched.registered)

	f.sched.unregisterErr = nil
	assert.Equal(t, OutcomeExpired, f.engine.Pass(ctx))
	assert.False(t, f.store.HasConfiguration())
	assert.False(t, f.sched.registered)
	assert.Equal(t, 2, f.sched.unregisters)
}

func TestPass_TeardownKeepsContentAfterUnterminatedBase(t *testing.T) {
	f := newFixture(t)
	const unterminated = "127.0.0.1 localhost\n::1 localhost"
	require.NoError(t, os.WriteFile(f.hostsPath, []byte(unterminated), 0644))
	f.configure(t, "x.com")
	ctx := context.Background()
	f.clock.Set(t0.Add(time.Minute))
	f.engine.Pass(ctx)

	edited := f.hosts(t) + "10.0.0.5 nas.local\n"
	require.NoError(t, os.WriteFile(f.hostsPath, []byte(edited), 0644))
	f.engine.Pass(ctx)

	f.clock.Set(t0.Add(2 * time.Hour))
	assert.Equal(t, OutcomeExpired, f.engine.Pass(ctx))
	assert.Equal(t, unterminated+"\n10.0.0.5 nas.local\n", f.hosts(t))
}
