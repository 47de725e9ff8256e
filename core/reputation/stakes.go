package reputation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/core/chainio/aa"
)

// StakeStatus is the on-chain deposit/stake read used to decide whether an
// entity clears the bundler's minimum-stake requirement for a relaxed
// associated-storage rule and a larger unstaked-mempool quota.
type StakeStatus struct {
	Staked          bool
	Stake           *big.Int
	UnstakeDelaySec uint32
}

// StakeChecker resolves an entity's current EntryPoint deposit/stake. It is
// an interface, not a concrete *aa.EntryPointCaller, so reputation tests can
// fake a deposit without dialing a node.
type StakeChecker interface {
	GetDepositInfo(opts *bind.CallOpts, account common.Address) (aa.IStakeManagerDepositInfo, error)
}

// StakeGate wraps a StakeChecker with the bundler's own minimum-stake policy.
type StakeGate struct {
	caller          StakeChecker
	minStake        *big.Int
	minUnstakeDelay uint32
}

func NewStakeGate(caller StakeChecker, minStake *big.Int, minUnstakeDelay uint32) *StakeGate {
	return &StakeGate{caller: caller, minStake: minStake, minUnstakeDelay: minUnstakeDelay}
}

// NewEntryPointStakeChecker binds a StakeChecker directly to entryPoint over
// the given contract caller (typically (*core/node.Client).Underlying()).
func NewEntryPointStakeChecker(entryPoint common.Address, backend bind.ContractCaller) (StakeChecker, error) {
	return aa.NewEntryPointCaller(entryPoint, backend)
}

// GetStakeStatus reads addr's deposit info from entryPoint and classifies it
// against the bundler's minimum stake and unstake-delay policy.
func (g *StakeGate) GetStakeStatus(ctx context.Context, addr common.Address) (*StakeStatus, error) {
	info, err := g.caller.GetDepositInfo(&bind.CallOpts{Context: ctx}, addr)
	if err != nil {
		return nil, err
	}
	staked := info.Staked &&
		info.Stake.Cmp(g.minStake) >= 0 &&
		info.UnstakeDelaySec >= g.minUnstakeDelay

	return &StakeStatus{
		Staked:          staked,
		Stake:           info.Stake,
		UnstakeDelaySec: info.UnstakeDelaySec,
	}, nil
}

// IsStaked adapts GetStakeStatus to the boolean core/validation.Manager
// expects from its stakes dependency.
func (g *StakeGate) IsStaked(ctx context.Context, addr common.Address) (bool, error) {
	status, err := g.GetStakeStatus(ctx, addr)
	if err != nil {
		return false, err
	}
	return status.Staked, nil
}
