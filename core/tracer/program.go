// Package tracer owns the Tracer Collector (component A): a literal
// JavaScript program shipped as the `tracer` parameter of debug_traceCall.
// The program itself runs inside the Ethereum node, never inside this
// process; this package is the single source of truth for its text and the
// Go-side types used to parse its JSON result.
package tracer

// Program is the step-level tracer installed during simulateValidation. It
// aggregates, per top-level call frame (the successive CALL/STATICCALL
// invocations the EntryPoint makes at depth 1), the opcode counts, storage
// accesses, contract-size probes and EXT* access patterns the
// Tracer-Result Parser (core/validation) later enforces the ERC-4337
// opcode/storage rules over.
const Program = `
{
	callsLength: 0,
	calls: [],
	currentLevel: null,
	keccak: [],
	logs: [],
	stopCollecting: false,
	topLevelCallCounter: 0,
	lastOp: "",
	lastExtAddr: null,

	// Boilerplate arithmetic/stack/comparison opcodes are cheap and do not
	// by themselves indicate environment-dependence; they are excluded from
	// the per-frame opcode tally so it stays a signal, not noise. PUSHn,
	// DUPn and SWAPn are excluded by name prefix in step().
	boilerplateOpcodes: {
		ADD: true, SUB: true, MUL: true, DIV: true, EQ: true, LT: true,
		GT: true, SLT: true, SGT: true, SHL: true, SHR: true, AND: true,
		OR: true, NOT: true, ISZERO: true, POP: true
	},

	stopCollectionTopic: "bb47ee3ec0be7b1b4e1b9b0d6a1a0e0e3c0b3c0b3c0b3c0b3c0b3c0b3c0b3f972",

	fault: function fault(log, db) {},

	result: function result(ctx, db) {
		return {
			calls: this.calls,
			keccak: this.keccak,
			logs: this.logs
		};
	},

	enter: function enter(frame) {
		if (this.stopCollecting) return;
		this.callsLength++;
		if (this.callsLength === 1) return; // depth-0 call into EntryPoint itself

		var call = {
			topLevelMethodSig: frame.getInput().slice(0, 4),
			topLevelTargetAddress: toHex(frame.getTo()),
			opcodes: {},
			access: {},
			contractSize: {},
			extCodeAccessInfo: {},
			oog: false
		};
		this.calls.push(call);
		this.currentLevel = call;
	},

	exit: function exit(frameResult) {
		if (this.callsLength > 0) this.callsLength--;
	},

	step: function step(log, db) {
		if (this.stopCollecting || this.currentLevel === null) return;

		var opcode = log.op.toString();
		var frame = this.currentLevel;

		// Look-behind on the previous step: a GAS is tallied only when the
		// opcode right after it is not a CALL*, and an EXT* access is recorded
		// unless it is the EXTCODESIZE+ISZERO "has code" idiom.
		var isCall = opcode === "CALL" || opcode === "STATICCALL" || opcode === "CALLCODE" || opcode === "DELEGATECALL";
		if (this.lastOp === "GAS" && !isCall) {
			frame.opcodes["GAS"] = (frame.opcodes["GAS"] || 0) + 1;
		}
		if (this.lastExtAddr !== null && !(this.lastOp === "EXTCODESIZE" && opcode === "ISZERO")) {
			frame.extCodeAccessInfo[this.lastExtAddr] = this.lastOp;
		}
		this.lastExtAddr = opcode.indexOf("EXT") === 0 ? toHex(log.stack.peek(0)) : null;
		this.lastOp = opcode;

		if (opcode !== "GAS" && !this.boilerplateOpcodes[opcode] && !/^(PUSH|DUP|SWAP)/.test(opcode)) {
			frame.opcodes[opcode] = (frame.opcodes[opcode] || 0) + 1;
		}

		if (opcode === "SLOAD" || opcode === "SSTORE") {
			var slot = log.stack.peek(0).toString(16);
			var addr = toHex(log.contract.getAddress());
			if (!frame.access[addr]) frame.access[addr] = { reads: {}, writes: {} };
			if (opcode === "SLOAD") {
				if (frame.access[addr].reads[slot] === undefined && frame.access[addr].writes[slot] === undefined) {
					// First touch of this slot in the frame: the value db
					// hands back here is the slot's value before this call
					// touched it, which is exactly what knownAccounts needs
					// for eth_sendRawTransactionConditional.
					frame.access[addr].reads[slot] = toHex(db.getState(log.contract.getAddress(), toWord(log.stack.peek(0))));
				}
			} else {
				if (frame.access[addr].reads[slot] === undefined && frame.access[addr].writes[slot] === undefined) {
					frame.access[addr].writes[slot] = toHex(db.getState(log.contract.getAddress(), toWord(log.stack.peek(0))));
				}
			}
		}

		if (log.getDepth() > 1 && (opcode.indexOf("EXT") === 0 || isCall)) {
			var target = toHex(log.stack.peek(opcode.indexOf("EXT") === 0 ? 0 : 1));
			if (!frame.contractSize[target]) {
				var code = db.getCode(toAddress(target));
				frame.contractSize[target] = { opcode: opcode, size: code ? code.length : 0 };
			}
		}

		if (opcode === "KECCAK256") {
			var offset = log.stack.peek(0).valueOf();
			var size = log.stack.peek(1).valueOf();
			if (size > 20 && size < 512) {
				this.keccak.push(toHex(log.memory.slice(offset, offset + size)));
			}
		}

		if (opcode === "LOG1" && this.callsLength === 1) {
			var topic = log.stack.peek(2).toString(16);
			if (topic === this.stopCollectionTopic) this.stopCollecting = true;
		}

		var gasLeft = log.getGas();
		var gasCost = log.getCost();
		if (gasLeft < gasCost || (opcode === "SSTORE" && gasLeft < 2300)) {
			frame.oog = true;
		}
	}
}
`
