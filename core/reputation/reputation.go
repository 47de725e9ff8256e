// Package reputation tracks per-entity seen/included counters and derives
// the OK/THROTTLED/BANNED status that gates mempool admission.
package reputation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
	"github.com/erc4337/aa-bundler/storage"
)

const keyPrefix = "reputation:entry:"

// Profile holds the three tunables that turn opsSeen/opsIncluded counters
// into an OK/THROTTLED/BANNED verdict.
type Profile struct {
	MinInclusionDenom uint32
	ThrottlingSlack   uint32
	BanSlack          uint32
}

// BundlerProfile is used when this node is itself submitting bundles to the
// EntryPoint; NonBundlerProfile is used when only relaying to other nodes'
// mempools (a stricter, lower-tolerance profile).
var (
	BundlerProfile    = Profile{MinInclusionDenom: 10, ThrottlingSlack: 10, BanSlack: 50}
	NonBundlerProfile = Profile{MinInclusionDenom: 100, ThrottlingSlack: 10, BanSlack: 10}
)

// metricsSink is the subset of *metrics.PrometheusMetrics a reputation
// status transition is reported through. Wired post-construction via
// SetMetrics rather than threaded through New, since most of this
// package's own tests have no Prometheus registry to hand it.
type metricsSink interface {
	IncReputationTransition(from, to string)
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncReputationTransition(string, string) {}

// Manager owns the reputation table for a single EntryPoint.
type Manager struct {
	mu sync.Mutex

	db      storage.Storage
	profile Profile
	log     logger.Logger
	metrics metricsSink

	whitelist map[common.Address]bool
	blacklist map[common.Address]bool
	entries   map[common.Address]*model.ReputationEntry
}

func New(db storage.Storage, profile Profile, lgr logger.Logger) (*Manager, error) {
	m := &Manager{
		db:        db,
		profile:   profile,
		log:       logger.EnsureLogger(lgr),
		metrics:   noopMetricsSink{},
		whitelist: make(map[common.Address]bool),
		blacklist: make(map[common.Address]bool),
		entries:   make(map[common.Address]*model.ReputationEntry),
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// SetMetrics installs the sink reputation status transitions are reported
// through. A nil metricsSink is rejected silently (a no-op stays wired)
// rather than panicking a process that simply never enabled Prometheus.
func (m *Manager) SetMetrics(metrics metricsSink) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// reportTransitionLocked compares addr's status before and after a
// counter-mutating call and reports it if it changed. Must be called with
// mu held and after the entry's counters have already been updated.
func (m *Manager) reportTransitionLocked(addr common.Address, before model.ReputationStatus) {
	if after := m.statusLocked(addr); after != before {
		m.metrics.IncReputationTransition(before.String(), after.String())
	}
}

func (m *Manager) loadAll() error {
	items, err := m.db.GetByPrefix([]byte(keyPrefix))
	if err != nil {
		return fmt.Errorf("load reputation entries: %w", err)
	}
	for _, item := range items {
		var entry model.ReputationEntry
		if err := json.Unmarshal(item.Value, &entry); err != nil {
			m.log.Warn("skipping corrupt reputation entry", "key", string(item.Key), "err", err)
			continue
		}
		m.entries[entry.Address] = &entry
	}
	return nil
}

func (m *Manager) persist(entry *model.ReputationEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reputation entry: %w", err)
	}
	return m.db.Set(entryKey(entry.Address), raw)
}

func entryKey(addr common.Address) []byte {
	return []byte(keyPrefix + addr.Hex())
}

func (m *Manager) entryLocked(addr common.Address) *model.ReputationEntry {
	entry, ok := m.entries[addr]
	if !ok {
		entry = &model.ReputationEntry{Address: addr}
		m.entries[addr] = entry
	}
	return entry
}

// SetWhitelisted and SetBlacklisted are operator overrides: a whitelisted
// entity is always OK, a blacklisted one always BANNED, regardless of its
// counters.
func (m *Manager) SetWhitelisted(addr common.Address, whitelisted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if whitelisted {
		m.whitelist[addr] = true
	} else {
		delete(m.whitelist, addr)
	}
}

func (m *Manager) SetBlacklisted(addr common.Address, blacklisted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blacklisted {
		m.blacklist[addr] = true
	} else {
		delete(m.blacklist, addr)
	}
}

// GetStatus derives OK/THROTTLED/BANNED for addr from its current counters.
func (m *Manager) GetStatus(addr common.Address) model.ReputationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(addr)
}

func (m *Manager) statusLocked(addr common.Address) model.ReputationStatus {
	if m.whitelist[addr] {
		return model.ReputationOK
	}
	if m.blacklist[addr] {
		return model.ReputationBanned
	}
	entry, ok := m.entries[addr]
	if !ok {
		return model.ReputationOK
	}

	minExpectedIncluded := entry.OpsSeen / m.profile.MinInclusionDenom
	if minExpectedIncluded <= entry.OpsIncluded+m.profile.ThrottlingSlack {
		return model.ReputationOK
	}
	if minExpectedIncluded <= entry.OpsIncluded+m.profile.BanSlack {
		return model.ReputationThrottled
	}
	return model.ReputationBanned
}

// UpdateSeenStatus records that addr appeared in a UserOperation the
// bundler accepted into its mempool.
func (m *Manager) UpdateSeenStatus(addr common.Address) error {
	if isZeroAddress(addr) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.statusLocked(addr)
	entry := m.entryLocked(addr)
	entry.OpsSeen++
	defer m.reportTransitionLocked(addr, before)
	return m.persist(entry)
}

// UpdateIncludedStatus records that addr's UserOperation was actually mined
// on-chain, crediting it against the expectation set by UpdateSeenStatus.
func (m *Manager) UpdateIncludedStatus(addr common.Address) error {
	if isZeroAddress(addr) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.statusLocked(addr)
	entry := m.entryLocked(addr)
	entry.OpsIncluded++
	defer m.reportTransitionLocked(addr, before)
	return m.persist(entry)
}

// CrashedHandleOps punishes the one entity a failed handleOps was blamed on
// (the bundle builder calls it for the factory, sender or paymaster that the
// FailedOp's AA error-code prefix names): its opsSeen is raised by 10000 and
// its opsIncluded reset to zero.
func (m *Manager) CrashedHandleOps(addr common.Address) error {
	if isZeroAddress(addr) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.statusLocked(addr)
	entry := m.entryLocked(addr)
	entry.OpsSeen += 10000
	entry.OpsIncluded = 0
	defer m.reportTransitionLocked(addr, before)
	return m.persist(entry)
}

// HourlyCron decays both counters by a factor of 23/24 so that an entity's
// reputation recovers over time instead of remembering every op forever.
// Entries that decay to zero on both counters are dropped.
func (m *Manager) HourlyCron() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, entry := range m.entries {
		entry.OpsSeen = entry.OpsSeen * 23 / 24
		entry.OpsIncluded = entry.OpsIncluded * 23 / 24
		if entry.OpsSeen == 0 && entry.OpsIncluded == 0 {
			delete(m.entries, addr)
			if err := m.db.Delete(entryKey(addr)); err != nil {
				return fmt.Errorf("delete decayed reputation entry %s: %w", addr.Hex(), err)
			}
			continue
		}
		if err := m.persist(entry); err != nil {
			return err
		}
	}
	return nil
}

// CalculateMaxAllowedMempoolOpsUnstaked bounds how many concurrent mempool
// slots an unstaked entity may occupy, scaled up by its recent inclusion
// rate so well-behaved unstaked entities earn more room over time.
func (m *Manager) CalculateMaxAllowedMempoolOpsUnstaked(addr common.Address) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[addr]
	if !ok || entry.OpsSeen == 0 {
		return 10
	}
	inclusionRate := decimal.NewFromInt(int64(entry.OpsIncluded)).
		DivRound(decimal.NewFromInt(int64(entry.OpsSeen)), 8)
	bonus := uint32(inclusionRate.Mul(decimal.NewFromInt(10)).IntPart())
	capped := entry.OpsIncluded
	if capped > 10000 {
		capped = 10000
	}
	return 10 + bonus + capped
}

func isZeroAddress(addr common.Address) bool {
	return addr == common.Address{}
}

// DumpEntries returns a snapshot of every tracked reputation entry, for
// debug_bundler_dumpReputation.
func (m *Manager) DumpEntries() []model.ReputationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReputationEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, *entry)
	}
	return out
}

// SetEntries overwrites the counters for each given entry, persisting the
// change, for debug_bundler_setReputation.
func (m *Manager) SetEntries(entries []model.ReputationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		entry := m.entryLocked(e.Address)
		entry.OpsSeen = e.OpsSeen
		entry.OpsIncluded = e.OpsIncluded
		if err := m.persist(entry); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every tracked reputation entry, for debug_bundler_clearReputation.
// Whitelist and blacklist overrides are left untouched.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr := range m.entries {
		if err := m.db.Delete(entryKey(addr)); err != nil {
			return fmt.Errorf("delete reputation entry %s: %w", addr.Hex(), err)
		}
	}
	m.entries = make(map[common.Address]*model.ReputationEntry)
	return nil
}
