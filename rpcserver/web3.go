package rpcserver

import (
	"fmt"

	"github.com/erc4337/aa-bundler/version"
)

// Web3Service implements the web3_* namespace.
type Web3Service struct {
	unsafe bool
}

func NewWeb3Service(unsafe bool) *Web3Service {
	return &Web3Service{unsafe: unsafe}
}

// ClientVersion answers web3_clientVersion with "aa-bundler/<v>[/unsafe]",
// the "/unsafe" suffix flagging a deployment running without the debug_traceCall
// opcode-banning tracer.
func (s *Web3Service) ClientVersion() string {
	if s.unsafe {
		return fmt.Sprintf("aa-bundler/%s/unsafe", version.Get())
	}
	return fmt.Sprintf("aa-bundler/%s", version.Get())
}
