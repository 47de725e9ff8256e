package rpcserver

// Error is rpcserver's own closed error shape for request-level problems
// that never reach core/validation (malformed bundling-mode params, unknown
// stake gate). It implements the same rpc.Error contract
// (Error()/ErrorCode()) as core/validation.Error so go-ethereum's rpc
// package carries the code into the JSON-RPC error envelope untouched.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string  { return e.Message }
func (e *Error) ErrorCode() int { return e.Code }

// CodeInvalidParams mirrors core/validation.CodeInvalidParams for
// request-shape errors that never reach the validator.
const CodeInvalidParams = -32602
