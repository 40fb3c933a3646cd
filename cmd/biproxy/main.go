// Command biproxy wires the warehouse auth and query-dispatch core into a
// runnable process: vault, breaker manager, connection manager, health
// monitor, ticket scheduler, event queue, insight store, and the admin HTTP
// surface. The client-facing query protocol itself is out of scope here —
// this only assembles the core and exposes it for an embedding server.
package main

import (
	"context"
	goerrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/breaker"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/connmanager"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver/sqladapter"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/eventqueue"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/health"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/insight"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/observability/admin"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/observability/alertbus"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/observability/metrics"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/scheduler"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	if err := run(log); err != nil {
		log.Error(err, "biproxy: fatal startup error")
		os.Exit(1)
	}
}

func run(log logr.Logger) error {
	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	secret := []byte(os.Getenv("VAULT_SECRET"))
	if len(secret) == 0 {
		return errMissingVaultSecret
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := vault.Load(ctx, cfg.Vault, secret, log.WithName("vault"))
	if err != nil {
		return err
	}
	defer v.Close()

	breakers := breaker.NewManager(cfg.Breaker)

	drv := sqladapter.New(sqladapter.DriverPGX)
	conn := connmanager.New(v, breakers, drv, cfg.Pool, log.WithName("connmanager"))
	defer conn.Close(ctx)

	bus := alertbus.New(log.WithName("alertbus"))
	monitor := health.New(cfg.Health, v, conn, bus, log.WithName("health"))
	monitor.Start(ctx)
	defer monitor.Close()

	sched := scheduler.New(cfg.Scheduler, schedulerExecutor(conn), log.WithName("scheduler"))
	sched.Start(ctx)
	defer sched.Close()

	registry := prometheus.NewRegistry()
	metricsBundle := metrics.New(registry)

	queue, err := eventqueue.New(cfg.Queue, nil, uploadNotifier(log, metricsBundle), log.WithName("eventqueue"))
	if err != nil {
		return err
	}
	defer queue.Close(ctx)

	insightStore := insight.New(conn, log.WithName("insight"))
	insightStore.Start(ctx)
	defer insightStore.Close()

	go syncMetricsLoop(ctx, metricsBundle, v, breakers, conn, sched)

	adminServer := admin.New(registry, breakers, conn, sched)
	httpServer := &http.Server{Addr: ":9090", Handler: adminServer.Router}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "biproxy: admin server stopped unexpectedly")
		}
	}()

	log.Info("biproxy: started", "admin_addr", httpServer.Addr)

	waitForShutdown(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// schedulerExecutor adapts the connection manager's ExecuteTemplate to the
// scheduler's Executor signature, using a fixed per-ticket timeout.
func schedulerExecutor(conn *connmanager.Manager) scheduler.Executor {
	return func(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error) {
		return conn.ExecuteTemplate(ctx, template, params, connmanager.Options{})
	}
}

// uploadNotifier logs a rotated file's path and is where an upload to
// remote storage would be triggered; that collaborator is external to
// this core.
func uploadNotifier(log logr.Logger, m *metrics.Metrics) eventqueue.RotationNotifier {
	return func(path string) {
		m.QueueRotationsTotal.Inc()
		log.Info("eventqueue: file ready for upload", "path", path)
	}
}

func syncMetricsLoop(ctx context.Context, m *metrics.Metrics, v *vault.Vault, breakers *breaker.Manager, conn *connmanager.Manager, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for account, snap := range breakers.Snapshot() {
				m.BreakerState.WithLabelValues(account).Set(stateToGauge(snap.State))
				m.BreakerFailuresTotal.WithLabelValues(account).Add(0) // nothing in this process increments this counter; Add(0) keeps the label series present
			}
			for account, stats := range conn.PoolStats() {
				m.PoolIdle.WithLabelValues(account).Set(float64(stats.Idle))
				m.PoolInUse.WithLabelValues(account).Set(float64(stats.InUse))
			}
			for _, a := range v.ListAccounts() {
				m.AccountHealthScore.WithLabelValues(a.Username).Set(a.HealthScore())
			}
			stats := sched.GetStats()
			m.SchedulerActive.Set(float64(stats.Running))
			m.SchedulerQueued.Set(float64(stats.Pending))
		}
	}
}

func stateToGauge(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 0
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}

func waitForShutdown(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
}

var errMissingVaultSecret = goerrors.New("biproxy: VAULT_SECRET environment variable is required")
