package tracer

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccessInfo is the per-address read/write record within one call frame.
// Reads and Writes both map a storage slot (hex string) to the slot's
// pre-call value (32-byte hex string), captured on the slot's first touch
// in the frame — exactly the value eth_sendRawTransactionConditional's
// knownAccounts precondition needs.
type AccessInfo struct {
	Reads  map[string]string `json:"reads"`
	Writes map[string]string `json:"writes"`
}

// ContractSizeInfo records the opcode that first touched addr at depth > 1
// and the size of the code found there (0 if none — a violation unless the
// access pattern is the whitelisted EXTCODESIZE+ISZERO "has code" idiom).
type ContractSizeInfo struct {
	Opcode string `json:"opcode"`
	Size   int    `json:"size"`
}

// CallFrame is one top-level (depth-1) call frame's aggregated trace data.
type CallFrame struct {
	TopLevelMethodSig    string                      `json:"topLevelMethodSig"`
	TopLevelTargetAddress string                     `json:"topLevelTargetAddress"`
	Opcodes              map[string]int              `json:"opcodes"`
	Access               map[string]AccessInfo       `json:"access"`
	ContractSize         map[string]ContractSizeInfo `json:"contractSize"`
	ExtCodeAccessInfo    map[string]string           `json:"extCodeAccessInfo"`
	OOG                  bool                        `json:"oog"`
}

// Result is the decoded debug_traceCall response for one simulateValidation.
type Result struct {
	Calls  []CallFrame `json:"calls"`
	Keccak []string    `json:"keccak"`
	Logs   []string    `json:"logs"`
}

// Parse decodes the raw JSON the node returned from debug_traceCall using
// Program as the tracer.
func Parse(raw json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tracer result: %w", err)
	}
	return &result, nil
}

// FrameForAddress returns the call frame whose top-level target is addr, if
// the entity was actually invoked during the simulation (e.g. a sender with
// no factory deployment step never gets its own frame).
func (r *Result) FrameForAddress(addr common.Address) (*CallFrame, bool) {
	target := addr.Hex()
	for i := range r.Calls {
		if equalFoldHex(r.Calls[i].TopLevelTargetAddress, target) {
			return &r.Calls[i], true
		}
	}
	return nil, false
}

func equalFoldHex(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
