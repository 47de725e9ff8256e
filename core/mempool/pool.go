// Package mempool holds pending UserOperations awaiting inclusion in a
// bundle, enforcing the replacement, entity-count and reputation-gating
// rules that keep one misbehaving account from flooding the pool.
package mempool

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

// throttledFloor is the entryCount an address must exceed before the
// throttled-reputation check even applies; an address's first few ops are
// never throttled purely on reputation.
const throttledFloor = 4

// maxSameEntityPerBundle is the per-bundle paymaster/factory cap. The pool
// itself does not apply it; core/bundle enforces the cap with its own
// constant of the same name while building.
const maxSameEntityPerBundle = 4

// replacementBump is the minimum multiplier (110%) a replacement UserOp's
// fees must clear over the entry it replaces.
var replacementBump = big.NewRat(11, 10)

// reputationSource is the subset of *reputation.Manager the pool needs.
type reputationSource interface {
	GetStatus(addr common.Address) model.ReputationStatus
	UpdateSeenStatus(addr common.Address) error
	UpdateIncludedStatus(addr common.Address) error
	CalculateMaxAllowedMempoolOpsUnstaked(addr common.Address) uint32
}

// stakeSource is the subset of *reputation.StakeGate the pool needs.
type stakeSource interface {
	IsStaked(ctx context.Context, addr common.Address) (bool, error)
}

// Pool is the in-memory UserOperation mempool for a single EntryPoint.
type Pool struct {
	mu sync.Mutex

	entries map[model.SenderNonceKey]*model.MempoolEntry
	byHash  map[common.Hash]model.SenderNonceKey

	entryCount    map[common.Address]int
	knownSenders  map[common.Address]int
	knownEntities map[common.Address]int // paymasters and factories

	reputation reputationSource
	stakes     stakeSource
	log        logger.Logger
}

func New(reputation reputationSource, stakes stakeSource, lgr logger.Logger) *Pool {
	return &Pool{
		entries:       make(map[model.SenderNonceKey]*model.MempoolEntry),
		byHash:        make(map[common.Hash]model.SenderNonceKey),
		entryCount:    make(map[common.Address]int),
		knownSenders:  make(map[common.Address]int),
		knownEntities: make(map[common.Address]int),
		reputation:    reputation,
		stakes:        stakes,
		log:           logger.EnsureLogger(lgr),
	}
}

// Count returns the number of entries currently held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Get returns the entry for userOpHash, if any.
func (p *Pool) Get(userOpHash common.Hash) (*model.MempoolEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.byHash[userOpHash]
	if !ok {
		return nil, false
	}
	return p.entries[key], true
}

// Add admits entry into the pool, or replaces the existing entry at the
// same (sender, nonce) if the new fees clear the 1.1x replacement bump.
func (p *Pool) Add(ctx context.Context, entry *model.MempoolEntry) *validation.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := entry.Key()
	if existing, ok := p.entries[key]; ok {
		return p.replaceLocked(key, existing, entry)
	}
	return p.addNewLocked(ctx, key, entry)
}

func (p *Pool) replaceLocked(key model.SenderNonceKey, existing, entry *model.MempoolEntry) *validation.Error {
	if !feeClearsReplacementBump(existing.UserOp.MaxPriorityFeePerGas, entry.UserOp.MaxPriorityFeePerGas) ||
		!feeClearsReplacementBump(existing.UserOp.MaxFeePerGas, entry.UserOp.MaxFeePerGas) {
		return &validation.Error{
			Code:    validation.CodeInvalidParams,
			Message: "replacement UserOperation must raise maxFeePerGas and maxPriorityFeePerGas by at least 10%",
		}
	}

	delete(p.byHash, existing.UserOpHash)
	p.entries[key] = entry
	p.byHash[entry.UserOpHash] = key
	return nil
}

func feeClearsReplacementBump(old, updated *big.Int) bool {
	if old == nil || old.Sign() == 0 {
		return true
	}
	required := new(big.Rat).Mul(asRat(old), replacementBump)
	return asRat(updated).Cmp(required) >= 0
}

func asRat(v *big.Int) *big.Rat { return new(big.Rat).SetInt(v) }

func (p *Pool) addNewLocked(ctx context.Context, key model.SenderNonceKey, entry *model.MempoolEntry) *validation.Error {
	op := entry.UserOp
	factory, hasFactory := op.Factory()
	paymaster, hasPaymaster := op.Paymaster()

	if verr := p.checkMultiRoleViolationLocked(op.Sender, factory, hasFactory, paymaster, hasPaymaster); verr != nil {
		return verr
	}

	entities := []common.Address{op.Sender}
	if hasFactory {
		entities = append(entities, factory)
	}
	if hasPaymaster {
		entities = append(entities, paymaster)
	}
	if entry.Aggregator != nil {
		entities = append(entities, *entry.Aggregator)
	}

	for _, addr := range entities {
		prospective := p.entryCount[addr] + 1
		if verr := p.checkReputationLocked(ctx, addr, prospective); verr != nil {
			return verr
		}
	}

	p.entries[key] = entry
	p.byHash[entry.UserOpHash] = key
	p.entryCount[op.Sender]++
	p.knownSenders[op.Sender]++
	if hasFactory {
		p.entryCount[factory]++
		p.knownEntities[factory]++
	}
	if hasPaymaster {
		p.entryCount[paymaster]++
		p.knownEntities[paymaster]++
	}

	for _, addr := range entities {
		if err := p.reputation.UpdateSeenStatus(addr); err != nil {
			p.log.Warn("failed to update seen status", "address", addr.Hex(), "err", err)
		}
	}

	return nil
}

// checkMultiRoleViolationLocked rejects a UserOp whose sender doubles as a
// paymaster/factory elsewhere in the pool, or whose paymaster/factory
// doubles as some other entry's sender — one address, one role.
func (p *Pool) checkMultiRoleViolationLocked(sender, factory common.Address, hasFactory bool, paymaster common.Address, hasPaymaster bool) *validation.Error {
	if p.knownEntities[sender] > 0 {
		return &validation.Error{Code: validation.CodeOpcodeValidation, Message: fmt.Sprintf("sender %s is already a paymaster or factory in the mempool", sender.Hex())}
	}
	if hasPaymaster && p.knownSenders[paymaster] > 0 {
		return &validation.Error{Code: validation.CodeOpcodeValidation, Message: fmt.Sprintf("paymaster %s is already a sender in the mempool", paymaster.Hex())}
	}
	if hasFactory && p.knownSenders[factory] > 0 {
		return &validation.Error{Code: validation.CodeOpcodeValidation, Message: fmt.Sprintf("factory %s is already a sender in the mempool", factory.Hex())}
	}
	return nil
}

// checkReputationLocked applies the banned/throttled/stake gates to addr,
// using the entryCount addr would have if entry is admitted.
func (p *Pool) checkReputationLocked(ctx context.Context, addr common.Address, prospectiveCount int) *validation.Error {
	status := p.reputation.GetStatus(addr)
	if status == model.ReputationBanned {
		return &validation.Error{Code: validation.CodeReputation, Message: fmt.Sprintf("%s is banned", addr.Hex())}
	}

	if prospectiveCount > throttledFloor && status == model.ReputationThrottled {
		return &validation.Error{Code: validation.CodeReputation, Message: fmt.Sprintf("%s is throttled and already has %d entries in the mempool", addr.Hex(), prospectiveCount)}
	}

	maxAllowed := p.reputation.CalculateMaxAllowedMempoolOpsUnstaked(addr)
	if uint32(prospectiveCount) <= maxAllowed {
		return nil
	}
	staked, err := p.isStakedLocked(ctx, addr)
	if err != nil {
		return &validation.Error{Code: validation.CodeInsufficientStake, Message: fmt.Sprintf("resolve stake for %s: %s", addr.Hex(), err)}
	}
	if !staked {
		return &validation.Error{Code: validation.CodeInsufficientStake, Message: fmt.Sprintf("%s exceeds the unstaked mempool quota (%d)", addr.Hex(), maxAllowed)}
	}
	return nil
}

func (p *Pool) isStakedLocked(ctx context.Context, addr common.Address) (bool, error) {
	if p.stakes == nil {
		return false, nil
	}
	return p.stakes.IsStaked(ctx, addr)
}

// RemoveByHash removes the entry with the given userOpHash, if present, and
// reports whether anything was removed.
func (p *Pool) RemoveByHash(userOpHash common.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.byHash[userOpHash]
	if !ok {
		return false
	}
	return p.removeLocked(key)
}

// RemoveBySenderNonce removes the entry at (sender, nonce), if present.
func (p *Pool) RemoveBySenderNonce(sender common.Address, nonce *big.Int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := model.SenderNonceKey{Sender: sender, Nonce: nonce.String()}
	return p.removeLocked(key)
}

func (p *Pool) removeLocked(key model.SenderNonceKey) bool {
	entry, ok := p.entries[key]
	if !ok {
		return false
	}
	delete(p.entries, key)
	delete(p.byHash, entry.UserOpHash)

	op := entry.UserOp
	p.decrement(p.entryCount, op.Sender)
	p.decrement(p.knownSenders, op.Sender)
	if factory, ok := op.Factory(); ok {
		p.decrement(p.entryCount, factory)
		p.decrement(p.knownEntities, factory)
	}
	if paymaster, ok := op.Paymaster(); ok {
		p.decrement(p.entryCount, paymaster)
		p.decrement(p.knownEntities, paymaster)
	}
	return true
}

func (p *Pool) decrement(m map[common.Address]int, addr common.Address) {
	m[addr]--
	if m[addr] <= 0 {
		delete(m, addr)
	}
}

// IsKnownSender reports whether addr is the sender of any entry currently
// in the pool, used by the bundle builder's storage-conflict check.
func (p *Pool) IsKnownSender(addr common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.knownSenders[addr] > 0
}

// GetSortedForInclusion returns a stable snapshot of the pool ordered by
// maxPriorityFeePerGas descending — higher-priority-fee UserOps are
// considered for bundling first.
func (p *Pool) GetSortedForInclusion() []*model.MempoolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*model.MempoolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UserOp.MaxPriorityFeePerGas.Cmp(out[j].UserOp.MaxPriorityFeePerGas) > 0
	})
	return out
}

// Dump returns every entry currently held, in no particular order, for
// debug_bundler_dumpMempool.
func (p *Pool) Dump() []*model.MempoolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*model.MempoolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry)
	}
	return out
}

// Clear removes every entry and resets all entity-tracking indices, for
// debug_bundler_clearMempool.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[model.SenderNonceKey]*model.MempoolEntry)
	p.byHash = make(map[common.Hash]model.SenderNonceKey)
	p.entryCount = make(map[common.Address]int)
	p.knownSenders = make(map[common.Address]int)
	p.knownEntities = make(map[common.Address]int)
}
