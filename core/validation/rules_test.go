package validation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/erc4337/aa-bundler/core/tracer"
)

var (
	testSender = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testOther  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func cleanFrame(addr common.Address) tracer.CallFrame {
	return tracer.CallFrame{
		TopLevelTargetAddress: addr.Hex(),
		Opcodes:               map[string]int{"PUSH1": 3, "SLOAD": 1},
		Access:                map[string]tracer.AccessInfo{},
		ContractSize:          map[string]tracer.ContractSizeInfo{},
		ExtCodeAccessInfo:     map[string]string{},
	}
}

func TestCheckFrames_CleanSenderPasses(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.Access[testSender.Hex()] = tracer.AccessInfo{
		Reads: map[string]string{"0x0": "0x0"},
	}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	touched, storageMap, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
	if len(touched) != 1 || touched[0] != testSender {
		t.Errorf("touched = %v, want [%s]", touched, testSender.Hex())
	}
	if _, ok := storageMap[testSender]; !ok {
		t.Error("expected sender's own storage to be recorded")
	}
}

func TestCheckFrames_RecordsActualPreValue(t *testing.T) {
	frame := cleanFrame(testSender)
	slot := common.HexToHash("0x1")
	wantValue := common.HexToHash("0x2a")
	frame.Access[testSender.Hex()] = tracer.AccessInfo{
		Reads: map[string]string{slot.Hex(): wantValue.Hex()},
	}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, storageMap, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
	got := storageMap[testSender].Slots[slot]
	if got != wantValue {
		t.Errorf("storageMap slot value = %s, want %s (the captured pre-value, not a phantom zero)", got.Hex(), wantValue.Hex())
	}
}

func TestCheckFrames_BannedOpcodeRejected(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.Opcodes["TIMESTAMP"] = 1
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err == nil {
		t.Fatal("expected a banned-opcode violation")
	}
	if err.Code != CodeOpcodeValidation {
		t.Errorf("code = %d, want %d", err.Code, CodeOpcodeValidation)
	}
}

func TestCheckFrames_UnassociatedStorageRejected(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.Access[testOther.Hex()] = tracer.AccessInfo{
		Reads: map[string]string{"0x1": "0x0"},
	}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err == nil {
		t.Fatal("expected an unassociated-storage violation")
	}
}

func TestCheckFrames_StakedEntityBypassesStorageRule(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.Access[testOther.Hex()] = tracer.AccessInfo{
		Reads: map[string]string{"0x1": "0x0"},
	}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}
	staked := map[common.Address]bool{testSender: true}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, staked)
	if err != nil {
		t.Fatalf("staked entity should bypass the associated-storage rule: %v", err)
	}
}

func TestCheckFrames_AssociatedStorageViaKeccakPreimage(t *testing.T) {
	// slot = keccak256(concat(sender, 0)) is the canonical mapping(address => ...) slot,
	// which the associated-storage rule must accept even for an unstaked entity.
	preimage := append(append([]byte{}, testSender.Bytes()...), make([]byte, 32)...)
	slotHash := crypto.Keccak256Hash(preimage)

	frame := cleanFrame(testSender)
	frame.Access[testOther.Hex()] = tracer.AccessInfo{
		Reads: map[string]string{slotHash.Hex(): "0x0"},
	}
	result := &tracer.Result{
		Calls:  []tracer.CallFrame{frame},
		Keccak: []string{"0x" + common.Bytes2Hex(preimage)},
	}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err != nil {
		t.Fatalf("expected associated storage to be accepted: %v", err)
	}
}

func TestCheckFrames_CodelessAddressRejected(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.ContractSize[testOther.Hex()] = tracer.ContractSizeInfo{Opcode: "CALL", Size: 0}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err == nil {
		t.Fatal("expected a code-less address violation")
	}
}

func TestCheckFrames_ExtCodeSizeWhitelisted(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.ContractSize[testOther.Hex()] = tracer.ContractSizeInfo{Opcode: "EXTCODESIZE", Size: 0}
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err != nil {
		t.Fatalf("EXTCODESIZE has-code idiom should be whitelisted: %v", err)
	}
}

func TestCheckFrames_ThirdPartyExtCodeAccessRejected(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.ExtCodeAccessInfo[testOther.Hex()] = "EXTCODECOPY"
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err == nil {
		t.Fatal("expected a third-party EXTCODECOPY violation")
	}
}

func TestCheckFrames_OOGRejected(t *testing.T) {
	frame := cleanFrame(testSender)
	frame.OOG = true
	result := &tracer.Result{Calls: []tracer.CallFrame{frame}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{{Role: "sender", Addr: testSender}}, nil)
	if err == nil {
		t.Fatal("expected an out-of-gas violation")
	}
	if err.Code != CodeSimulateValidation {
		t.Errorf("code = %d, want %d", err.Code, CodeSimulateValidation)
	}
}

func TestCheckFrames_MissingFrameIsSkipped(t *testing.T) {
	result := &tracer.Result{Calls: []tracer.CallFrame{cleanFrame(testSender)}}

	_, _, err := CheckFrames(result, testEntryPoint, []Entity{
		{Role: "sender", Addr: testSender},
		{Role: "factory", Addr: testOther}, // never invoked, no frame recorded
	}, nil)
	if err != nil {
		t.Fatalf("unexpected violation for an entity with no frame: %v", err)
	}
}
