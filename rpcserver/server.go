// Package rpcserver hosts component (§6.1): the JSON-RPC 2.0 HTTP surface
// bundlers and wallets call into. It is a thin transport layer over the
// already-built Execution Manager, mempool, reputation table and events
// index — it owns no bundling logic of its own.
package rpcserver

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/erc4337/aa-bundler/pkg/logger"
)

// Config holds the knobs that change which namespaces and middleware this
// server installs. It mirrors the recognized options of spec.md §6.4 that
// bear on the RPC surface specifically; the rest live in core/config.
type Config struct {
	EntryPoint common.Address
	ChainID    *big.Int
	Unsafe     bool
	DebugRPC   bool

	// MetricsHandler, when set, is mounted at GET /metrics — normally
	// promhttp.HandlerFor over the same prometheus registry
	// the Execution Manager's BundlerMetrics was built against.
	MetricsHandler http.Handler

	// DebugAuthSecret, when non-empty and DebugRPC is set, requires a
	// Bearer JWT signed with this HMAC secret on every POST /debug call.
	// Leaving it empty serves debug_bundler_* to anyone who can reach the
	// port, matching debugRpc's own trusted-operator assumption.
	DebugAuthSecret []byte
}

// Server wraps a go-ethereum JSON-RPC dispatcher in an echo.Echo HTTP
// transport, matching the teacher's own echo-based HTTP server shape
// (aggregator.startHttpServer) but serving a POST /rpc endpoint and a
// liveness probe, plus POST /debug and GET /metrics when configured, instead
// of a template-rendered dashboard.
type Server struct {
	echo     *echo.Echo
	rpc      *gethrpc.Server
	debugRPC *gethrpc.Server
	log      logger.Logger
}

// New builds the dispatcher, registers every namespace Config calls for,
// and returns the echo.Echo ready to Start. lifecycleCtx is threaded into
// the debug_bundler handlers that reconfigure long-running background jobs
// (SetAutoBundler); it must outlive any individual request.
func New(cfg Config, lifecycleCtx context.Context, eth *EthService, web3 *Web3Service, debugBundler *DebugBundlerService, lgr logger.Logger) (*Server, error) {
	lgr = logger.EnsureLogger(lgr)

	rpcSrv := gethrpc.NewServer()
	if err := rpcSrv.RegisterName("eth", eth); err != nil {
		return nil, err
	}
	if err := rpcSrv.RegisterName("web3", web3); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.POST("/rpc", func(c echo.Context) error {
		rpcSrv.ServeHTTP(c.Response(), c.Request())
		return nil
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if cfg.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.MetricsHandler))
	}

	var debugSrv *gethrpc.Server
	if cfg.DebugRPC {
		debugSrv = gethrpc.NewServer()
		if err := debugSrv.RegisterName("debug_bundler", debugBundler); err != nil {
			return nil, err
		}
		debugHandler := func(c echo.Context) error {
			debugSrv.ServeHTTP(c.Response(), c.Request())
			return nil
		}
		if len(cfg.DebugAuthSecret) > 0 {
			e.POST("/debug", debugHandler, bearerAuth(cfg.DebugAuthSecret))
		} else {
			e.POST("/debug", debugHandler)
		}
	}

	return &Server{echo: e, rpc: rpcSrv, debugRPC: debugSrv, log: lgr}, nil
}

// Start begins serving on addr; it blocks until the listener fails or is
// closed by Shutdown, matching echo.Echo's own Start contract.
func (s *Server) Start(addr string) error {
	s.log.Info("rpc server listening", "address", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the HTTP listener and the JSON-RPC dispatcher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rpc.Stop()
	if s.debugRPC != nil {
		s.debugRPC.Stop()
	}
	return s.echo.Shutdown(ctx)
}
