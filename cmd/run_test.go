package cmd

import (
	"math/big"
	"testing"
)

func TestScaleByFactor_Unity(t *testing.T) {
	v := big.NewInt(1_000_000_000)
	if got := scaleByFactor(v, 1); got.Cmp(v) != 0 {
		t.Errorf("scaleByFactor(v, 1) = %s, want %s", got, v)
	}
}

func TestScaleByFactor_Scales(t *testing.T) {
	v := big.NewInt(1_000_000_000)
	got := scaleByFactor(v, 1.1)
	want := big.NewInt(1_100_000_000)
	if got.Cmp(want) != 0 {
		t.Errorf("scaleByFactor(v, 1.1) = %s, want %s", got, want)
	}
}

func TestScaleByFactor_FractionalTruncates(t *testing.T) {
	v := big.NewInt(7)
	got := scaleByFactor(v, 1.1)
	// 7 * 1100 / 1000 = 7.7, truncated to 7 by integer division.
	if want := big.NewInt(7); got.Cmp(want) != 0 {
		t.Errorf("scaleByFactor(7, 1.1) = %s, want %s", got, want)
	}
}

func TestRunCommand_Registered(t *testing.T) {
	if runCmd.Use != "run" {
		t.Errorf("runCmd.Use = %q, want %q", runCmd.Use, "run")
	}
	if runCmd.RunE == nil {
		t.Error("runCmd.RunE is nil")
	}
}
