package cmd

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/erc4337/aa-bundler/core/backup"
	"github.com/erc4337/aa-bundler/core/bundle"
	"github.com/erc4337/aa-bundler/core/chainio/aa"
	aaconfig "github.com/erc4337/aa-bundler/core/config"
	"github.com/erc4337/aa-bundler/core/events"
	"github.com/erc4337/aa-bundler/core/execution"
	"github.com/erc4337/aa-bundler/core/mempool"
	"github.com/erc4337/aa-bundler/core/node"
	"github.com/erc4337/aa-bundler/core/reputation"
	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/metrics"
	"github.com/erc4337/aa-bundler/pkg/eip1559"
	"github.com/erc4337/aa-bundler/rpcserver"
	"github.com/erc4337/aa-bundler/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the bundler node",
	Long:  `Starts the JSON-RPC bundler node: validation, mempool, reputation, the auto-bundler and the debug surface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBundler(config)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBundler(configFilePath string) error {
	cfg, err := aaconfig.NewConfig(configFilePath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewWithPath(cfg.StorageDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	nodeClient, err := node.Dial(ctx, cfg.EthHttpRpcUrl, cfg.Logger)
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer nodeClient.Close()

	entryPointCaller, err := aa.NewEntryPointCaller(cfg.EntryPoint, cfg.EthHttpClient)
	if err != nil {
		return fmt.Errorf("bind entrypoint caller: %w", err)
	}
	entryPointTransactor, err := aa.NewEntryPointTransactor(cfg.EntryPoint, cfg.EthHttpClient)
	if err != nil {
		return fmt.Errorf("bind entrypoint transactor: %w", err)
	}

	codeCache, err := bigcache.New(ctx, bigcache.DefaultConfig(10*time.Minute))
	if err != nil {
		return fmt.Errorf("init code cache: %w", err)
	}

	stakeChecker, err := reputation.NewEntryPointStakeChecker(cfg.EntryPoint, cfg.EthHttpClient)
	if err != nil {
		return fmt.Errorf("bind stake checker: %w", err)
	}
	stakeGate := reputation.NewStakeGate(stakeChecker, cfg.MinStake, cfg.MinUnstakeDelay)

	repManager, err := reputation.New(db, reputation.BundlerProfile, cfg.Logger)
	if err != nil {
		return fmt.Errorf("init reputation manager: %w", err)
	}
	for _, addr := range cfg.Whitelist {
		repManager.SetWhitelisted(addr, true)
	}
	for _, addr := range cfg.Blacklist {
		repManager.SetBlacklisted(addr, true)
	}

	repCron, err := reputation.NewCronService(repManager)
	if err != nil {
		return fmt.Errorf("init reputation cron: %w", err)
	}
	if err := repCron.Start(); err != nil {
		return fmt.Errorf("start reputation cron: %w", err)
	}

	validationManager := validation.New(nodeClient, stakeGate, cfg.EntryPoint, cfg.Unsafe, codeCache, cfg.Logger)

	mempoolPool := mempool.New(repManager, stakeGate, cfg.Logger)

	feeSuggester := gasFactorFeeSuggester(cfg.EthHttpClient, cfg.GasFactor)

	bundleManager := bundle.New(bundle.Config{
		EntryPoint:       cfg.EntryPoint,
		Beneficiary:      cfg.Beneficiary,
		MinSignerBalance: cfg.MinSignerBalance,
		MaxBundleGas:     cfg.MaxBundleGas,
		ConditionalRPC:   cfg.ConditionalRPC,
	}, nodeClient, entryPointCaller, entryPointTransactor, feeSuggester, validationManager, mempoolPool, repManager, cfg.Signer, cfg.Logger)

	eventsManager, err := events.New(db, nodeClient, mempoolPool, repManager, cfg.EntryPoint, cfg.Logger)
	if err != nil {
		return fmt.Errorf("init events manager: %w", err)
	}
	if err := eventsManager.HandlePastEvents(ctx); err != nil {
		cfg.Logger.Warn("initial events replay failed", "err", err)
	}
	go func() {
		if err := eventsManager.Subscribe(ctx); err != nil {
			cfg.Logger.Warn("events subscription ended", "err", err)
		}
	}()

	registry := prometheus.NewRegistry()
	bundlerMetrics := metrics.New(registry)
	repManager.SetMetrics(bundlerMetrics)

	execManager, err := execution.New(execution.Config{
		EntryPoint:     cfg.EntryPoint,
		ChainID:        cfg.ChainID,
		MaxMempoolSize: cfg.AutoBundleMempoolSize,
	}, validationManager, mempoolPool, bundleManager, eventsManager, repCron, bundlerMetrics, cfg.Logger)
	if err != nil {
		return fmt.Errorf("init execution manager: %w", err)
	}
	if cfg.AutoBundleInterval > 0 {
		if err := execManager.SetAutoBundler(ctx, cfg.AutoBundleInterval, cfg.AutoBundleMempoolSize); err != nil {
			return fmt.Errorf("start auto-bundler: %w", err)
		}
	}
	defer execManager.Shutdown()

	backupService := backup.NewService(cfg.Logger, db, cfg.StorageDir+"/backups")
	if err := backupService.StartPeriodicBackup(time.Hour); err != nil {
		cfg.Logger.Warn("periodic backup did not start", "err", err)
	}
	defer backupService.StopPeriodicBackup()

	ethService := rpcserver.NewEthService(cfg.EntryPoint, cfg.ChainID, validationManager, execManager, eventsManager, nodeClient)
	web3Service := rpcserver.NewWeb3Service(cfg.Unsafe)
	debugService := rpcserver.NewDebugBundlerService(ctx, mempoolPool, repManager, execManager, stakeGate)

	server, err := rpcserver.New(rpcserver.Config{
		EntryPoint:      cfg.EntryPoint,
		ChainID:         cfg.ChainID,
		Unsafe:          cfg.Unsafe,
		DebugRPC:        cfg.DebugRPC,
		DebugAuthSecret: cfg.DebugAuthSecret,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, ctx, ethService, web3Service, debugService, cfg.Logger)
	if err != nil {
		return fmt.Errorf("init rpc server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// gasFactorFeeSuggester scales pkg/eip1559.SuggestFee's output by factor —
// the recognized `gasFactor` configuration option (spec.md §6.4) has no
// natural home inside pkg/eip1559 itself (a teacher-verbatim fee oracle with
// no policy knobs) or core/bundle.Config (which takes a resolved fee pair,
// not a multiplier), so it is applied here at the call site instead.
func gasFactorFeeSuggester(client *ethclient.Client, factor float64) func(ctx context.Context) (*big.Int, *big.Int, error) {
	return func(ctx context.Context) (*big.Int, *big.Int, error) {
		maxFeePerGas, maxPriorityFeePerGas, err := eip1559.SuggestFee(client)
		if err != nil {
			return nil, nil, err
		}
		return scaleByFactor(maxFeePerGas, factor), scaleByFactor(maxPriorityFeePerGas, factor), nil
	}
}

func scaleByFactor(v *big.Int, factor float64) *big.Int {
	if factor == 1 {
		return v
	}
	scaled := new(big.Int).Mul(v, big.NewInt(int64(factor*1000)))
	return scaled.Div(scaled, big.NewInt(1000))
}
