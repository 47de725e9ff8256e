package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

func convertToAddressSlice(addresses []string) []common.Address {
	result := make([]common.Address, len(addresses))
	for i, addr := range addresses {
		result[i] = common.HexToAddress(addr)
	}
	return result
}

func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", s)
	}
	return v, nil
}

func readYamlConfig(path string, out *ConfigRaw) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// applyEnvOverrides lets AA_BUNDLER_* environment variables win over
// whatever the YAML file set, per SPEC_FULL.md §6.4 — useful for secrets-free
// per-environment overrides (staging vs. mainnet RPC URL) without forking
// the config file.
func applyEnvOverrides(raw *ConfigRaw) {
	if v := os.Getenv("AA_BUNDLER_NETWORK"); v != "" {
		raw.Network = v
	}
	if v := os.Getenv("AA_BUNDLER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			raw.Port = port
		}
	}
	if v := os.Getenv("AA_BUNDLER_ENTRY_POINT"); v != "" {
		raw.EntryPoint = v
	}
	if v := os.Getenv("AA_BUNDLER_BENEFICIARY"); v != "" {
		raw.Beneficiary = v
	}
	if v := os.Getenv("AA_BUNDLER_GAS_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			raw.GasFactor = f
		}
	}
	if v := os.Getenv("AA_BUNDLER_MIN_BALANCE"); v != "" {
		raw.MinBalance = v
	}
	if v := os.Getenv("AA_BUNDLER_MAX_BUNDLE_GAS"); v != "" {
		raw.MaxBundleGas = v
	}
	if v := os.Getenv("AA_BUNDLER_MIN_STAKE"); v != "" {
		raw.MinStake = v
	}
	if v := os.Getenv("AA_BUNDLER_UNSAFE"); v != "" {
		raw.Unsafe = v == "true"
	}
	if v := os.Getenv("AA_BUNDLER_DEBUG_RPC"); v != "" {
		raw.DebugRPC = v == "true"
	}
	if v := os.Getenv("AA_BUNDLER_CONDITIONAL_RPC"); v != "" {
		raw.ConditionalRPC = v == "true"
	}
	if v := os.Getenv("AA_BUNDLER_AUTO_BUNDLE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			raw.AutoBundleInterval = n
		}
	}
	if v := os.Getenv("AA_BUNDLER_AUTO_BUNDLE_MEMPOOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			raw.AutoBundleMempoolSize = n
		}
	}
	if v := os.Getenv("AA_BUNDLER_STORAGE_DIR"); v != "" {
		raw.StorageDir = v
	}
}
