package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReferencedContracts is the set of contract addresses touched during
// validation, plus a keccak256 fingerprint of their bytecode used to detect
// a storage/opcode rule change on re-validation.
type ReferencedContracts struct {
	Addresses []common.Address
	Hash      common.Hash
}

// MempoolEntry is a UserOperation held in the mempool together with the
// bookkeeping needed for replacement, re-validation and bundle building.
type MempoolEntry struct {
	UserOp               *UserOperation
	UserOpHash           common.Hash
	Prefund              *big.Int
	ReferencedContracts  ReferencedContracts
	Aggregator           *common.Address
}

// Key is the (sender, nonce) replacement key.
func (e *MempoolEntry) Key() SenderNonceKey {
	return SenderNonceKey{Sender: e.UserOp.Sender, Nonce: e.UserOp.Nonce.String()}
}

// SenderNonceKey identifies a mempool slot; at most one entry may exist per key.
type SenderNonceKey struct {
	Sender common.Address
	Nonce  string
}

// ReputationStatus is the derived OK/THROTTLED/BANNED classification.
type ReputationStatus int

const (
	ReputationOK ReputationStatus = iota
	ReputationThrottled
	ReputationBanned
)

func (s ReputationStatus) String() string {
	switch s {
	case ReputationOK:
		return "OK"
	case ReputationThrottled:
		return "THROTTLED"
	case ReputationBanned:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

// ReputationEntry tracks per-address inclusion behavior.
type ReputationEntry struct {
	Address     common.Address `json:"address"`
	OpsSeen     uint32         `json:"opsSeen"`
	OpsIncluded uint32         `json:"opsIncluded"`
}

// StakeInfo mirrors EntryPoint.getDepositInfo's read path.
type StakeInfo struct {
	Addr            common.Address
	Stake           *big.Int
	UnstakeDelaySec uint32
}

// StorageSlotMap is either an address-level state root (account-root mode,
// Root != nil) or a per-slot value map; an address-level root beats any
// slot-level entry for that address on merge.
type StorageSlotMap struct {
	Root  *common.Hash
	Slots map[common.Hash]common.Hash
}

// StorageMap is the merged set of storage touched across one or more
// UserOperation validations, consumed by conditional-RPC dispatch and
// cross-UO conflict detection.
type StorageMap map[common.Address]*StorageSlotMap

// Merge folds other into m in place, preserving the invariant that an
// address-level root beats any slot-level entry for that address.
func (m StorageMap) Merge(other StorageMap) {
	for addr, slotMap := range other {
		existing, ok := m[addr]
		if !ok {
			m[addr] = slotMap
			continue
		}
		if existing.Root != nil {
			continue // address-level root already wins
		}
		if slotMap.Root != nil {
			m[addr] = slotMap
			continue
		}
		if existing.Slots == nil {
			existing.Slots = map[common.Hash]common.Hash{}
		}
		for slot, val := range slotMap.Slots {
			existing.Slots[slot] = val
		}
	}
}

// Addresses returns every address touched by the map.
func (m StorageMap) Addresses() []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	return out
}

// InclusionRecord is what the Events Manager persists once a UserOperation's
// UserOperationEvent is observed on-chain, answering
// eth_getUserOperationByHash/eth_getUserOperationReceipt without an
// unbounded log replay on every lookup.
type InclusionRecord struct {
	UserOpHash      common.Hash    `json:"userOpHash"`
	UserOp          *UserOperation `json:"userOp,omitempty"`
	Sender          common.Address `json:"sender"`
	Nonce           *big.Int       `json:"nonce"`
	Paymaster       common.Address `json:"paymaster"`
	Success         bool           `json:"success"`
	ActualGasCost   *big.Int       `json:"actualGasCost"`
	ActualGasUsed   *big.Int       `json:"actualGasUsed"`
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockHash       common.Hash    `json:"blockHash"`
	BlockNumber     uint64         `json:"blockNumber"`
}
