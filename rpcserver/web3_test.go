package rpcserver

import (
	"strings"
	"testing"
)

func TestWeb3Service_ClientVersion_Safe(t *testing.T) {
	s := NewWeb3Service(false)
	got := s.ClientVersion()
	if !strings.HasPrefix(got, "aa-bundler/") {
		t.Errorf("ClientVersion = %q, want aa-bundler/ prefix", got)
	}
	if strings.Contains(got, "/unsafe") {
		t.Errorf("ClientVersion = %q, should not mention unsafe mode", got)
	}
}

func TestWeb3Service_ClientVersion_Unsafe(t *testing.T) {
	s := NewWeb3Service(true)
	got := s.ClientVersion()
	if !strings.HasSuffix(got, "/unsafe") {
		t.Errorf("ClientVersion = %q, want an /unsafe suffix", got)
	}
}
