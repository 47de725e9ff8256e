// Package execution implements component H: the single-writer Execution
// Manager that serializes UserOperation intake, drives the auto-bundler
// timer, and owns the reputation ageing cron.
package execution

import (
	"context"
	"math/big"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/erc4337/aa-bundler/core/bundle"
	"github.com/erc4337/aa-bundler/core/validation"
	"github.com/erc4337/aa-bundler/model"
	"github.com/erc4337/aa-bundler/pkg/logger"
	"github.com/erc4337/aa-bundler/pkg/timekeeper"
)

// validator is the subset of *core/validation.Manager the Execution
// Manager calls on intake.
type validator interface {
	Validate(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (*validation.Outcome, *validation.Error)
}

// mempoolManager is the subset of *core/mempool.Pool the Execution Manager
// feeds and polls for size-triggered bundling.
type mempoolManager interface {
	Add(ctx context.Context, entry *model.MempoolEntry) *validation.Error
	Count() int
}

// bundleSender is the subset of *core/bundle.Manager the Execution Manager
// drives on every attemptBundle.
type bundleSender interface {
	Build(ctx context.Context) (*bundle.Built, error)
	Send(ctx context.Context, built *bundle.Built) (*bundle.SendResult, error)
}

// eventsManager is the subset of *core/events.Manager the auto-mine follow
// up calls after a bundle lands.
type eventsManager interface {
	HandlePastEvents(ctx context.Context) error
}

// reputationCron is the subset of *core/reputation.CronService the
// Execution Manager reschedules via setReputationCron.
type reputationCron interface {
	Start() error
	Reschedule(d time.Duration) error
	Stop() error
}

// metricsSink is the subset of *metrics.PrometheusMetrics the Execution
// Manager updates on every intake and bundle cycle — the single point both
// paths already pass through, so it is the natural place to report them
// rather than threading a metrics dependency into mempool/bundle/reputation
// individually.
type metricsSink interface {
	IncUserOpsReceived()
	IncUserOpsRejected(reason string)
	SetMempoolSize(n int)
	IncBundlesSent()
	IncBundlesFailed(reason string)
	ObserveBundleOpCount(n int)
	ObserveBundleCycleSeconds(d time.Duration)
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncUserOpsReceived()              {}
func (noopMetricsSink) IncUserOpsRejected(string)        {}
func (noopMetricsSink) SetMempoolSize(int)               {}
func (noopMetricsSink) IncBundlesSent()                  {}
func (noopMetricsSink) IncBundlesFailed(string)          {}
func (noopMetricsSink) ObserveBundleOpCount(int)         {}
func (noopMetricsSink) ObserveBundleCycleSeconds(time.Duration) {}

// Config holds the Execution Manager's bundling-mode knobs. MaxMempoolSize
// of 0 is auto-mine mode: every accepted intake attempts a bundle send and
// immediately replays events so inclusion is visible without waiting on a
// timer.
type Config struct {
	EntryPoint     common.Address
	ChainID        *big.Int
	MaxMempoolSize int
}

// Manager is component H. All of its mutating methods serialize through mu;
// every on-chain read or write a bundle cycle performs runs with the lock
// held, so there is never interleaving between two intakes or two bundles.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	validate validator
	pool     mempoolManager
	bundler  bundleSender
	events   eventsManager
	repCron  reputationCron
	metrics  metricsSink
	log      logger.Logger

	scheduler     gocron.Scheduler
	autoBundleJob gocron.Job
}

// New wires the Execution Manager's collaborators. metricsSink may be nil,
// in which case metrics reporting is a no-op — most tests and any
// operator that hasn't enabled Prometheus wiring don't need one.
func New(cfg Config, v validator, pool mempoolManager, bundler bundleSender, ev eventsManager, repCron reputationCron, m metricsSink, lgr logger.Logger) (*Manager, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	scheduler.Start()
	if m == nil {
		m = noopMetricsSink{}
	}
	return &Manager{
		cfg:       cfg,
		validate:  v,
		pool:      pool,
		bundler:   bundler,
		events:    ev,
		repCron:   repCron,
		metrics:   m,
		log:       logger.EnsureLogger(lgr),
		scheduler: scheduler,
	}, nil
}

// SendUserOperation validates rpcOp, admits it to the mempool, and attempts
// a size-triggered bundle, all under the single-writer lock.
func (m *Manager) SendUserOperation(ctx context.Context, rpcOp *model.RPCUserOperation, entryPoint common.Address) (common.Hash, *validation.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.IncUserOpsReceived()

	outcome, verr := m.validate.Validate(ctx, rpcOp, entryPoint)
	if verr != nil {
		m.metrics.IncUserOpsRejected(verr.Message)
		return common.Hash{}, verr
	}
	op, err := model.FromRPC(rpcOp)
	if err != nil {
		return common.Hash{}, &validation.Error{Code: validation.CodeInvalidParams, Message: err.Error()}
	}

	entry := &model.MempoolEntry{
		UserOp:              op,
		UserOpHash:          op.Hash(entryPoint, m.cfg.ChainID),
		Prefund:             outcome.Prefund,
		ReferencedContracts: outcome.ReferencedContracts,
		Aggregator:          outcome.Aggregator,
	}
	if verr := m.pool.Add(ctx, entry); verr != nil {
		m.metrics.IncUserOpsRejected(verr.Message)
		return common.Hash{}, verr
	}
	m.metrics.SetMempoolSize(m.pool.Count())

	if err := m.attemptBundleLocked(ctx, false); err != nil {
		m.log.Warn("attemptBundle after intake failed", "userOpHash", entry.UserOpHash.Hex(), "err", err)
	}
	return entry.UserOpHash, nil
}

// AttemptBundle acquires the lock and runs a bundle cycle; force bypasses
// the mempool-size trigger.
func (m *Manager) AttemptBundle(ctx context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptBundleLocked(ctx, force)
}

func (m *Manager) attemptBundleLocked(ctx context.Context, force bool) error {
	if !force && m.pool.Count() < m.cfg.MaxMempoolSize {
		return nil
	}

	cycle := timekeeper.NewElapsing()

	built, err := m.bundler.Build(ctx)
	if err != nil {
		return err
	}
	if len(built.Ops) == 0 {
		return nil
	}
	if _, err := m.bundler.Send(ctx, built); err != nil {
		m.metrics.IncBundlesFailed(err.Error())
		return err
	}
	m.metrics.IncBundlesSent()
	m.metrics.ObserveBundleOpCount(len(built.Ops))
	m.metrics.ObserveBundleCycleSeconds(cycle.Report())
	m.metrics.SetMempoolSize(m.pool.Count())

	if m.cfg.MaxMempoolSize == 0 {
		if err := m.events.HandlePastEvents(ctx); err != nil {
			m.log.Warn("auto-mine events replay failed", "err", err)
		}
	}
	return nil
}

// SetAutoBundler (re)schedules a periodic forced attemptBundle every
// intervalSeconds, replacing any previously scheduled job rather than
// leaking a goroutine. intervalSeconds of 0 disables the timer, leaving
// bundling purely size-triggered. maxPoolSize becomes the new size
// trigger.
func (m *Manager) SetAutoBundler(ctx context.Context, intervalSeconds int, maxPoolSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.MaxMempoolSize = maxPoolSize

	if m.autoBundleJob != nil {
		if err := m.scheduler.RemoveJob(m.autoBundleJob.ID()); err != nil {
			return err
		}
		m.autoBundleJob = nil
	}
	if intervalSeconds == 0 {
		return nil
	}

	job, err := m.scheduler.NewJob(
		gocron.DurationJob(time.Duration(intervalSeconds)*time.Second),
		gocron.NewTask(func() {
			if err := m.AttemptBundle(ctx, true); err != nil {
				m.log.Error("auto-bundler attemptBundle failed", "err", err)
			}
		}),
	)
	if err != nil {
		return err
	}
	m.autoBundleJob = job
	return nil
}

// SetReputationCron reschedules the reputation hourly-decay job to run
// every d instead of hourly.
func (m *Manager) SetReputationCron(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repCron.Reschedule(d)
}

// Shutdown stops the auto-bundler scheduler and the reputation cron.
func (m *Manager) Shutdown() error {
	if err := m.repCron.Stop(); err != nil {
		return err
	}
	return m.scheduler.Shutdown()
}

// BundlingMode resolves the §4.8 bundling-mode presets into (intervalSeconds,
// maxPoolSize) pairs: "auto" mines a bundle on every intake, "manual" runs
// no timer and attempts a bundle only once the mempool holds
// defaultMaxPoolSize entries (debug_bundler_sendBundleNow forces one at any
// time), and a plain number is a timer period in seconds with the same
// defaultMaxPoolSize trigger.
func BundlingMode(mode interface{}, defaultMaxPoolSize int) (intervalSeconds int, maxPoolSize int) {
	switch v := mode.(type) {
	case string:
		switch v {
		case "auto":
			return 0, 0
		case "manual":
			return 0, defaultMaxPoolSize
		}
	case int:
		return v, defaultMaxPoolSize
	case float64:
		return int(v), defaultMaxPoolSize
	}
	return 0, defaultMaxPoolSize
}
