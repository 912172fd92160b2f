// Package schema defines the documents shared between the setup CLI and
// the enforcer. Both binaries import these types so the files they
// exchange cannot drift apart.
package schema

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gajzzs/blocksites/internal/hostname"
)

// BlockConfiguration is the active block. It is written once by the setup
// phase and deleted by the enforcer at teardown.
type BlockConfiguration struct {
	Sites     []string  `json:"sites" validate:"required,min=1,unique,dive,site"`
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
}

// Active reports whether the block is still in force at now.
func (c *BlockConfiguration) Active(now time.Time) bool {
	return now.Before(c.EndTime)
}

// Remaining is the time left until EndTime, never negative.
func (c *BlockConfiguration) Remaining(now time.Time) time.Duration {
	if d := c.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Progress is the elapsed fraction of the block, clamped to [0, 1].
func (c *BlockConfiguration) Progress(now time.Time) float64 {
	total := c.EndTime.Sub(c.StartTime)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(c.StartTime)) / float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Validate checks the invariants every reader relies on.
func (c *BlockConfiguration) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid block configuration: %w", err)
	}
	return nil
}

// EnforcerState lets the periodic enforcer skip redundant hosts writes and
// DNS cache flushes.
type EnforcerState struct {
	LastHostsHash uint64 `json:"lastHostsHash"`
	FirstRunDone  bool   `json:"firstRunDone"`
}

// IPCache is produced by the setup phase, which can resolve names before
// elevation, and replayed unchanged by every enforcement pass.
type IPCache struct {
	IPs         map[string][]string `json:"ips"`
	CIDRs       map[string][]string `json:"cidrs,omitempty"`
	DoHIPs      []string            `json:"dohIPs,omitempty"`
	LastUpdated time.Time           `json:"lastUpdated"`
}

// Sites returns the cache keys in sorted order.
func (c *IPCache) Sites() []string {
	seen := make(map[string]struct{}, len(c.IPs)+len(c.CIDRs))
	for s := range c.IPs {
		seen[s] = struct{}{}
	}
	for s := range c.CIDRs {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// registration only fails on an empty tag or nil func
		_ = validate.RegisterValidation("site", func(fl validator.FieldLevel) bool {
			return hostname.IsValid(fl.Field().String())
		})
	})
	return validate
}
