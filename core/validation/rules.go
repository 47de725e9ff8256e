package validation

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/erc4337/aa-bundler/core/tracer"
	"github.com/erc4337/aa-bundler/model"
)

// bannedOpcodes are forbidden in every entity's top-level call frame: they
// make validation outcome depend on block/chain context the bundler cannot
// pin down at inclusion time.
var bannedOpcodes = map[string]bool{
	"GASPRICE": true, "GASLIMIT": true, "DIFFICULTY": true, "TIMESTAMP": true,
	"BASEFEE": true, "BLOCKHASH": true, "NUMBER": true, "SELFBALANCE": true,
	"BALANCE": true, "ORIGIN": true, "CREATE": true, "COINBASE": true,
	"SELFDESTRUCT": true,
}

// Entity is one of the four roles whose top-level call frame is checked
// against the opcode/storage rules.
type Entity struct {
	Role string // "sender", "factory", "paymaster", "aggregator"
	Addr common.Address
}

// CheckFrames applies the Tracer-Result Parser (component B) rules over
// every entity's call frame, returning the addresses actually touched and a
// merged StorageMap for the bundler's conflict check, or the first rule
// violation found.
func CheckFrames(result *tracer.Result, entryPoint common.Address, entities []Entity, staked map[common.Address]bool) ([]common.Address, model.StorageMap, *Error) {
	touched := map[common.Address]bool{}
	storageMap := model.StorageMap{}

	for _, entity := range entities {
		frame, ok := result.FrameForAddress(entity.Addr)
		if !ok {
			continue // entity had no call frame (e.g. no factory deployment step)
		}

		if err := checkBannedOpcodes(entity, frame); err != nil {
			return nil, nil, err
		}
		if err := checkExtCodeAccess(entity, frame, entryPoint); err != nil {
			return nil, nil, err
		}
		if err := checkContractSize(entity, frame); err != nil {
			return nil, nil, err
		}
		if frame.OOG {
			return nil, nil, simulateFailed("%s frame ran out of gas during validation", entity.Role)
		}
		if err := checkStorageAccess(entity, frame, result.Keccak, staked, touched, storageMap); err != nil {
			return nil, nil, err
		}
	}

	addrs := make([]common.Address, 0, len(touched))
	for addr := range touched {
		addrs = append(addrs, addr)
	}
	return addrs, storageMap, nil
}

func checkBannedOpcodes(entity Entity, frame *tracer.CallFrame) *Error {
	for op, count := range frame.Opcodes {
		if count == 0 {
			continue
		}
		if bannedOpcodes[op] {
			return opcodeViolation("%s (%s) used banned opcode %s", entity.Role, entity.Addr.Hex(), op)
		}
		if op == "GAS" {
			return opcodeViolation("%s (%s) used a GAS opcode not immediately followed by CALL", entity.Role, entity.Addr.Hex())
		}
	}
	return nil
}

func checkExtCodeAccess(entity Entity, frame *tracer.CallFrame, entryPoint common.Address) *Error {
	for addrHex := range frame.ExtCodeAccessInfo {
		addr := common.HexToAddress(addrHex)
		if addr == entity.Addr || addr == entryPoint {
			continue
		}
		return opcodeViolation("%s (%s) probed code of third-party address %s", entity.Role, entity.Addr.Hex(), addr.Hex())
	}
	return nil
}

func checkContractSize(entity Entity, frame *tracer.CallFrame) *Error {
	for addrHex, info := range frame.ContractSize {
		if info.Size > 0 {
			continue
		}
		if info.Opcode == "EXTCODESIZE" {
			continue // whitelisted require(has-code) idiom
		}
		return opcodeViolation("%s (%s) called code-less address %s via %s", entity.Role, entity.Addr.Hex(), addrHex, info.Opcode)
	}
	return nil
}

func checkStorageAccess(entity Entity, frame *tracer.CallFrame, keccakPreimages []string, staked map[common.Address]bool, touched map[common.Address]bool, storageMap model.StorageMap) *Error {
	for addrHex, access := range frame.Access {
		addr := common.HexToAddress(addrHex)
		touched[addr] = true

		own := addr == entity.Addr
		entityStaked := staked[entity.Addr]

		for slotHex, valueHex := range access.Reads {
			if own || entityStaked {
				recordSlot(storageMap, addr, slotHex, valueHex)
				continue
			}
			if isAssociatedStorage(entity.Addr, slotHex, keccakPreimages) {
				recordSlot(storageMap, addr, slotHex, valueHex)
				continue
			}
			return opcodeViolation("%s (%s) read unassociated storage of %s", entity.Role, entity.Addr.Hex(), addr.Hex())
		}
		for slotHex, valueHex := range access.Writes {
			if own || entityStaked {
				recordSlot(storageMap, addr, slotHex, valueHex)
				continue
			}
			if isAssociatedStorage(entity.Addr, slotHex, keccakPreimages) {
				recordSlot(storageMap, addr, slotHex, valueHex)
				continue
			}
			return opcodeViolation("%s (%s) wrote unassociated storage of %s", entity.Role, entity.Addr.Hex(), addr.Hex())
		}
	}
	return nil
}

func recordSlot(storageMap model.StorageMap, addr common.Address, slotHex, valueHex string) {
	slot := common.HexToHash(slotHex)
	entry, ok := storageMap[addr]
	if !ok {
		entry = &model.StorageSlotMap{Slots: map[common.Hash]common.Hash{}}
		storageMap[addr] = entry
	}
	if entry.Root != nil {
		return
	}
	if entry.Slots == nil {
		entry.Slots = map[common.Hash]common.Hash{}
	}
	entry.Slots[slot] = common.HexToHash(valueHex)
}

// isAssociatedStorage implements the ERC-4337 "associated storage" rule: a
// slot s at address a is associated with sender if keccak(concat(sender,
// ...)) was observed during the trace and hashes to within 128 of s.
func isAssociatedStorage(sender common.Address, slotHex string, keccakPreimages []string) bool {
	slot, ok := new(big.Int).SetString(strings.TrimPrefix(slotHex, "0x"), 16)
	if !ok {
		return false
	}

	senderHex := strings.ToLower(sender.Hex())
	for _, preimage := range keccakPreimages {
		if !strings.Contains(strings.ToLower(preimage), strings.TrimPrefix(senderHex, "0x")) {
			continue
		}
		hashed := crypto.Keccak256Hash(common.FromHex(preimage))
		hashedInt := new(big.Int).SetBytes(hashed.Bytes())
		diff := new(big.Int).Sub(slot, hashedInt)
		diff.Abs(diff)
		if diff.Cmp(big.NewInt(128)) <= 0 {
			return true
		}
	}
	return false
}
