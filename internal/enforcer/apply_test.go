package enforcer

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gajzzs/blocksites/internal/firewall"
	"github.com/gajzzs/blocksites/internal/hosts"
	"github.com/gajzzs/blocksites/internal/schema"
)

func request(sites ...string) (*schema.BlockConfiguration, *schema.IPCache) {
	return &schema.BlockConfiguration{Sites: sites, StartTime: t0, EndTime: t0.Add(time.Hour)},
		&schema.IPCache{
			IPs:         map[string][]string{sites[0]: {"93.184.216.34"}},
			DoHIPs:      []string{"8.8.8.8"},
			LastUpdated: t0,
		}
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	cfg, cache := request("example.com")
	ctx := context.Background()

	require.NoError(t, f.engine.Apply(ctx, cfg, cache))

	want := hosts.Apply(baseHosts, cfg.Sites, hosts.DefaultMarker)
	assert.Equal(t, want, f.hosts(t))
	assert.Equal(t, 1, f.flusher.flushes)
	assert.Equal(t, []string{firewall.Rules(cache)}, f.filter.loads)
	assert.True(t, f.sched.registered)

	backup, err := os.ReadFile(f.store.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, baseHosts, string(backup))

	st, err := f.store.LoadState()
	require.NoError(t, err)
	assert.Equal(t, schema.EnforcerState{LastHostsHash: hosts.Hash(want), FirstRunDone: true}, st)

	// the seeded state makes the first scheduled pass a no-op for hosts
	f.clock.Set(t0.Add(time.Minute))
	assert.Equal(t, OutcomeActive, f.engine.Pass(ctx))
	assert.Equal(t, 1, f.flusher.flushes)
}

func TestApply_RefusesWhileActive(t *testing.T) {
	f := newFixture(t)
	cfg, cache := request("example.com")
	ctx := context.Background()
	require.NoError(t, f.engine.Apply(ctx, cfg, cache))

	shorter := &schema.BlockConfiguration{Sites: []string{"example.com"}, StartTime: t0, EndTime: t0.Add(time.Minute)}
	err := f.engine.Apply(ctx, shorter, cache)
	assert.ErrorIs(t, err, ErrActive)

	got, err := f.store.LoadConfiguration()
	require.NoError(t, err)
	assert.True(t, got.EndTime.Equal(cfg.EndTime))
}

func TestApply_ReplacesExpiredBlock(t *testing.T) {
	f := newFixture(t)
	cfg, cache := request("example.com")
	ctx := context.Background()
	require.NoError(t, f.engine.Apply(ctx, cfg, cache))

	f.clock.Set(t0.Add(2 * time.Hour))
	next := &schema.BlockConfiguration{Sites: []string{"reddit.com"}, StartTime: f.clock.Now(), EndTime: f.clock.Now().Add(time.Hour)}
	require.NoError(t, f.engine.Apply(ctx, next, cache))

	got := f.hosts(t)
	assert.Contains(t, got, "127.0.0.1 reddit.com # BLOCKSITES\n")
	assert.NotContains(t, got, "127.0.0.1 example.com # BLOCKSITES\n")
}

func TestApply_RegisterFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.sched.registerErr = errors.New("launchctl: permission denied")
	cfg, cache := request("example.com")

	err := f.engine.Apply(context.Background(), cfg, cache)
	assert.ErrorContains(t, err, "permission denied")

	assert.Equal(t, baseHosts, f.hosts(t))
	assert.False(t, f.store.HasConfiguration())
	assert.False(t, exists(f.store.IPCachePath()))
	assert.False(t, exists(f.store.StatePath()))
	assert.Equal(t, 1, f.filter.removes)
	assert.Equal(t, 1, f.sched.unregisters)
}

func TestApply_HostsWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	// a directory in place of the hosts file cannot be read or replaced
	require.NoError(t, os.Remove(f.hostsPath))
	require.NoError(t, os.Mkdir(f.hostsPath, 0755))
	cfg, cache := request("example.com")

	err := f.engine.Apply(context.Background(), cfg, cache)
	assert.Error(t, err)
	assert.False(t, f.store.HasConfiguration())
	assert.False(t, exists(f.store.IPCachePath()))
	assert.Zero(t, f.sched.registers)
}

func TestApply_FirewallFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.filter.loadErr = errors.New("pf disabled")
	cfg, cache := request("example.com")

	require.NoError(t, f.engine.Apply(context.Background(), cfg, cache))
	assert.True(t, f.sched.registered)
	assert.Contains(t, f.hosts(t), "# BLOCKSITES START")
}

func TestApply_InvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	cfg, cache := request("example.com")
	cfg.EndTime = cfg.StartTime

	assert.Error(t, f.engine.Apply(context.Background(), cfg, cache))
	assert.Equal(t, baseHosts, f.hosts(t))
	assert.False(t, f.store.HasConfiguration())
}
