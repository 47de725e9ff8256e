// Package config resolves the bundler's on-disk YAML configuration plus
// AA_BUNDLER_* environment overrides into a typed Config carrying the live
// collaborators (an *ethclient.Client, a signer, a logger) every other
// component is constructed from.
package config

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-playground/validator/v10"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/erc4337/aa-bundler/core/chainio/signer"
	"github.com/erc4337/aa-bundler/pkg/logger"
)

// signerKeyEnvVar names the hex-encoded ECDSA private key the signer is
// loaded from. Rotating it is a deployment concern, out of scope here; this
// is the minimal concrete loader a runnable binary needs.
const signerKeyEnvVar = "AA_BUNDLER_SIGNER_KEY"

// debugAuthSecretEnvVar names the HMAC secret the /debug route's bearer
// tokens are verified against. Like the signer key, a secret has no
// business living in the checked-in YAML file, so it is env-only.
const debugAuthSecretEnvVar = "AA_BUNDLER_DEBUG_AUTH_SECRET"

// Config is what every other component is constructed from: ConfigRaw's
// fields resolved into typed addresses/amounts, plus the live collaborators
// (ethclient, signer, logger) ConfigRaw can only name, not build.
type Config struct {
	Logger logger.Logger

	EthHttpRpcUrl string
	EthHttpClient *ethclient.Client
	ChainID       *big.Int

	Signer        *bind.TransactOpts
	SignerAddress common.Address

	Port int

	EntryPoint       common.Address
	Beneficiary      common.Address
	GasFactor        float64
	MinSignerBalance *big.Int
	MaxBundleGas     *big.Int

	Unsafe          bool
	DebugRPC        bool
	ConditionalRPC  bool
	DebugAuthSecret []byte

	Whitelist []common.Address
	Blacklist []common.Address

	MinStake        *big.Int
	MinUnstakeDelay uint32

	AutoBundleInterval    int
	AutoBundleMempoolSize int

	StorageDir string
}

// ConfigRaw is read verbatim from the YAML file at configFilePath, then
// overridden field-by-field from AA_BUNDLER_* environment variables before
// validation. Every field is a string/primitive, never a resolved type:
// resolving (address parsing, big.Int parsing, dialing the node) happens
// only in NewConfig, after validation passes.
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment"`

	Network string `yaml:"network" validate:"required,url"`
	Port    int    `yaml:"port" validate:"required,gt=0"`

	EntryPoint  string `yaml:"entry_point" validate:"required,len=42"`
	Beneficiary string `yaml:"beneficiary" validate:"omitempty,len=42"`

	GasFactor        float64 `yaml:"gas_factor" validate:"gte=1"`
	MinBalance       string  `yaml:"min_balance" validate:"required,numeric"`
	MaxBundleGas     string  `yaml:"max_bundle_gas" validate:"required,numeric"`
	MinStake         string  `yaml:"min_stake" validate:"required,numeric"`
	MinUnstakeDelay  uint32  `yaml:"min_unstake_delay"`

	Unsafe         bool `yaml:"unsafe"`
	DebugRPC       bool `yaml:"debug_rpc"`
	ConditionalRPC bool `yaml:"conditional_rpc"`

	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`

	AutoBundleInterval    int `yaml:"auto_bundle_interval"`
	AutoBundleMempoolSize int `yaml:"auto_bundle_mempool_size" validate:"gte=0"`

	StorageDir string `yaml:"storage_dir" validate:"required"`
}

// NewConfig reads configFilePath, applies environment overrides, validates
// the result, dials the configured node and returns the fully resolved
// Config. Note: this is shared by every subcommand that needs a live
// bundler node (currently only `run`), so it lives in core rather than cmd.
func NewConfig(configFilePath string) (*Config, error) {
	var raw ConfigRaw
	if err := readYamlConfig(configFilePath, &raw); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configFilePath, err)
	}
	applyEnvOverrides(&raw)

	if err := validator.New().Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lgr, err := sdklogging.NewZapLogger(raw.Environment)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	ethClient, err := ethclient.Dial(raw.Network)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", raw.Network, err)
	}

	chainID, err := ethClient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	privateKeyHex := os.Getenv(signerKeyEnvVar)
	if privateKeyHex == "" {
		return nil, fmt.Errorf("%s is required", signerKeyEnvVar)
	}
	signerOpts, err := signer.FromPrivateKeyHex(privateKeyHex, chainID)
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}

	minBalance, err := parseBigInt(raw.MinBalance)
	if err != nil {
		return nil, fmt.Errorf("min_balance: %w", err)
	}
	maxBundleGas, err := parseBigInt(raw.MaxBundleGas)
	if err != nil {
		return nil, fmt.Errorf("max_bundle_gas: %w", err)
	}
	minStake, err := parseBigInt(raw.MinStake)
	if err != nil {
		return nil, fmt.Errorf("min_stake: %w", err)
	}

	beneficiary := signerOpts.From
	if raw.Beneficiary != "" {
		beneficiary = common.HexToAddress(raw.Beneficiary)
	}

	var debugAuthSecret []byte
	if secret := os.Getenv(debugAuthSecretEnvVar); secret != "" {
		debugAuthSecret = []byte(secret)
	}

	cfg := &Config{
		Logger:                lgr,
		EthHttpRpcUrl:         raw.Network,
		EthHttpClient:         ethClient,
		ChainID:               chainID,
		Signer:                signerOpts,
		SignerAddress:         signerOpts.From,
		Port:                  raw.Port,
		EntryPoint:            common.HexToAddress(raw.EntryPoint),
		Beneficiary:           beneficiary,
		GasFactor:             raw.GasFactor,
		MinSignerBalance:      minBalance,
		MaxBundleGas:          maxBundleGas,
		Unsafe:                raw.Unsafe,
		DebugRPC:              raw.DebugRPC,
		ConditionalRPC:        raw.ConditionalRPC,
		DebugAuthSecret:       debugAuthSecret,
		Whitelist:             convertToAddressSlice(raw.Whitelist),
		Blacklist:             convertToAddressSlice(raw.Blacklist),
		MinStake:              minStake,
		MinUnstakeDelay:       raw.MinUnstakeDelay,
		AutoBundleInterval:    raw.AutoBundleInterval,
		AutoBundleMempoolSize: raw.AutoBundleMempoolSize,
		StorageDir:            raw.StorageDir,
	}
	cfg.validate()
	return cfg, nil
}

// validate panics on a handful of invariants a struct tag can't express
// (cross-field consistency) — a misconfigured bundler should never start,
// matching the teacher's own fail-fast NewConfig.
func (c *Config) validate() {
	if c.EntryPoint == common.HexToAddress("") {
		panic("Config: entry_point is required")
	}
	if c.GasFactor < 1 {
		panic("Config: gas_factor must be >= 1")
	}
}
