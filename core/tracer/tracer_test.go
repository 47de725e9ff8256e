package tracer

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestProgramContainsCoreHooks(t *testing.T) {
	for _, want := range []string{"enter:", "exit:", "step:", "result:", "SSTORE", "KECCAK256"} {
		if !strings.Contains(Program, want) {
			t.Errorf("tracer program missing %q", want)
		}
	}
}

func TestParseAndFrameLookup(t *testing.T) {
	raw := []byte(`{
		"calls": [
			{
				"topLevelMethodSig": "a9059cbb",
				"topLevelTargetAddress": "0x000000000000000000000000000000000000000a",
				"opcodes": {"SLOAD": 2},
				"access": {},
				"contractSize": {},
				"extCodeAccessInfo": {},
				"oog": false
			}
		],
		"keccak": [],
		"logs": []
	}`)

	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Calls) != 1 {
		t.Fatalf("expected 1 call frame, got %d", len(result.Calls))
	}

	addr := common.HexToAddress("0x0a")
	frame, ok := result.FrameForAddress(addr)
	if !ok {
		t.Fatal("expected to find frame for address")
	}
	if frame.Opcodes["SLOAD"] != 2 {
		t.Errorf("expected 2 SLOADs, got %d", frame.Opcodes["SLOAD"])
	}

	if _, ok := result.FrameForAddress(common.HexToAddress("0xdead")); ok {
		t.Error("expected no frame for untouched address")
	}
}
