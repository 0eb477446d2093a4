package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/easy-batch/internal/analytics"
	"github.com/djlord-it/easy-batch/internal/api"
	"github.com/djlord-it/easy-batch/internal/circuitbreaker"
	"github.com/djlord-it/easy-batch/internal/config"
	"github.com/djlord-it/easy-batch/internal/cron"
	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/engine"
	"github.com/djlord-it/easy-batch/internal/leaderelection"
	"github.com/djlord-it/easy-batch/internal/metrics"
	"github.com/djlord-it/easy-batch/internal/pipeline"
	"github.com/djlord-it/easy-batch/internal/reconciler"
	"github.com/djlord-it/easy-batch/internal/scheduler"
	"github.com/djlord-it/easy-batch/internal/source"
	"github.com/djlord-it/easy-batch/internal/store/postgres"
	"github.com/djlord-it/easy-batch/internal/transport/channel"

	_ "github.com/lib/pq"
)

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expr string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`easybatch - batch job orchestration engine

Usage:
  easybatch <command>

Commands:
  serve      Start the scheduler, execution engine, and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  REDIS_ADDR                 Redis address for analytics (required when enabled)
  HTTP_ADDR                  HTTP server address (default: ":8080")
  TICK_INTERVAL              Scheduler tick interval (default: "1s")

  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")
  EXECUTION_DRAIN_TIMEOUT    Wait for running executions on shutdown (default: "60s")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")

  SCHEDULER_ENABLED          Enable the cron scheduler (default: "true")
  RECONCILE_ENABLED          Enable abandoned execution reconciler (default: "false")
  RECONCILE_INTERVAL         How often to scan for abandoned runs (default: "5m")
  RECONCILE_THRESHOLD        Age before a running execution is abandoned (default: "1h")
  RECONCILE_BATCH_SIZE       Max abandoned executions per cycle (default: "100")

  EVENT_BUFFER_SIZE          Import progress buffer size (default: "100")
  IMPORT_GATE                Concurrent batch writers per import (default: processor count)

  CIRCUIT_BREAKER_THRESHOLD  Failures before a data source opens (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN   Open state cooldown (default: "2m")

  ANALYTICS_ENABLED          Enable Redis event analytics (default: "false")
  ANALYTICS_WINDOW           Analytics bucket size (default: "1h")
  ANALYTICS_RETENTION        Analytics key retention (default: "720h")

  LEADER_LOCK_KEY            Advisory lock key shared by all instances (default: "613482")
  LEADER_RETRY_INTERVAL      Lock acquisition retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Lock connection heartbeat interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	log.Printf("easybatch: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)
	txRunner := postgres.NewTxRunner(db)

	sqlRunner := postgres.NewSQLRunner()
	sqlRunner.RegisterDataSource("default", db)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("easybatch: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("easybatch: METRICS_ENABLED not set; metrics disabled")
	}

	// Event broker with optional metrics
	var brokerOpts []channel.Option
	if metricsSink != nil {
		brokerOpts = append(brokerOpts, channel.WithMetrics(metricsSink))
	}
	broker := channel.NewBroker(cfg.EventBufferSize, brokerOpts...)
	broker.Subscribe(logLifecycleEvents)

	importer := pipeline.New(txRunner).
		WithEvents(broker).
		WithGate(cfg.ImportGate)
	if metricsSink != nil {
		importer = importer.WithMetrics(metricsSink)
	}

	eng := engine.New(store, sqlRunner, source.FileOpener{}, importer).
		WithEvents(broker)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	if cfg.CircuitBreakerThreshold > 0 {
		eng = eng.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("easybatch: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	// Wire analytics if enabled
	var redisClient *redis.Client
	if cfg.AnalyticsEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		eng = eng.WithAnalytics(analytics.NewRedisSink(redisClient, cfg.AnalyticsWindow, cfg.AnalyticsRetention))
		log.Printf("easybatch: analytics enabled (redis=%s, window=%s)", cfg.RedisAddr, cfg.AnalyticsWindow)
	} else {
		log.Println("easybatch: ANALYTICS_ENABLED not set; analytics disabled")
	}

	cronParser := cron.NewParser()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(
			scheduler.Config{TickInterval: cfg.TickInterval},
			&cronParserAdapter{parser: cronParser},
			store,
		)
		if metricsSink != nil {
			sched = sched.WithMetrics(metricsSink)
		}
		sched.SetFireFunc(func(jobID uuid.UUID, firedBy string) {
			go func() {
				if _, err := eng.ExecuteJob(context.Background(), jobID, nil, firedBy); err != nil {
					log.Printf("easybatch: scheduled execution failed job=%s err=%v", jobID, err)
				}
			}()
		})
	} else {
		log.Println("easybatch: SCHEDULER_ENABLED=false; scheduler disabled")
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
		)
		log.Printf("easybatch: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("easybatch: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Leader-gated duties: only the lock holder schedules jobs and
	// reconciles abandoned executions.
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc

	if sched != nil || recon != nil {
		var reconWg sync.WaitGroup

		onElected := func(leaderCtx context.Context) {
			if sched != nil {
				if err := registerScheduledJobs(leaderCtx, store, sched); err != nil {
					log.Printf("easybatch: failed to load scheduled jobs: %v", err)
				}
				if err := sched.Start(); err != nil {
					log.Printf("easybatch: scheduler start failed: %v", err)
				}
			}
			if recon != nil {
				reconWg.Add(1)
				go func() {
					defer reconWg.Done()
					recon.Run(leaderCtx)
				}()
			}
		}
		onDemoted := func() {
			if sched != nil {
				if err := sched.Stop(); err != nil && err != scheduler.ErrNotRunning {
					log.Printf("easybatch: scheduler stop failed: %v", err)
				}
			}
			reconWg.Wait()
		}

		elector := leaderelection.New(db, cfg.LeaderLockKey,
			cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
			onElected, onDemoted)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
	}

	apiHandler := api.NewHandler(store, eng, cronParser).WithHealthChecker(db)
	if sched != nil {
		apiHandler = apiHandler.WithScheduler(sched)
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("easybatch: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("easybatch: http server error: %v", err)
		}
	}()

	log.Printf("easybatch: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("easybatch: received signal %v, shutting down", received)

	// Phase 1: Release leadership (stops scheduler and reconciler, no
	// new executions fired)
	if cancelElector != nil {
		log.Println("easybatch: releasing leadership...")
		cancelElector()
		electorWg.Wait()
		log.Println("easybatch: leadership released")
	}

	// Phase 2: Drain running executions, then cancel stragglers
	drainExecutions(eng, cfg.ExecutionDrainTimeout)

	// Phase 3: Stop HTTP server with graceful shutdown
	log.Println("easybatch: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("easybatch: http server shutdown error: %v", err)
	}
	log.Println("easybatch: http server stopped")

	log.Println("easybatch: stopped")
	return exitSuccess
}

// logConfigWarnings flags configuration combinations that work but
// degrade operability. Warnings are advisory; startup proceeds.
func logConfigWarnings(cfg *config.Config) {
	if cfg.SchedulerEnabled && !cfg.ReconcileEnabled {
		log.Println("easybatch: WARNING [P0]: RECONCILE_ENABLED=false - executions abandoned by a crashed " +
			"instance will stay 'running' forever. Enable the reconciler in production.")
	}
	if !cfg.MetricsEnabled {
		log.Println("easybatch: WARNING [P1]: METRICS_ENABLED=false - no visibility into tick drift, " +
			"execution latency, or import throughput.")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("easybatch: WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 - SQL steps will keep hammering " +
			"a failing data source instead of backing off.")
	}
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold < 2*cfg.ReconcileInterval {
		log.Printf("easybatch: WARNING [P2]: RECONCILE_THRESHOLD=%s is close to RECONCILE_INTERVAL=%s - "+
			"long-running executions risk being reaped while alive.", cfg.ReconcileThreshold, cfg.ReconcileInterval)
	}
	if !cfg.SchedulerEnabled {
		log.Println("easybatch: INFO: SCHEDULER_ENABLED=false - jobs run only via the HTTP API on this instance.")
	}
}

// registerScheduledJobs loads every scheduled-mode job and registers it
// with the scheduler. Individual registration failures are logged and
// skipped so one bad cron expression does not block the rest.
func registerScheduledJobs(ctx context.Context, store *postgres.Store, sched *scheduler.Scheduler) error {
	const pageSize = 100
	registered := 0

	for offset := 0; ; offset += pageSize {
		jobs, err := store.ListScheduledJobs(ctx, pageSize, offset)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if err := sched.Register(ctx, job.ID, job.CronExpression); err != nil {
				log.Printf("easybatch: skipping job=%s name=%q: %v", job.ID, job.Name, err)
				continue
			}
			registered++
		}
		if len(jobs) < pageSize {
			break
		}
	}

	log.Printf("easybatch: registered %d scheduled jobs", registered)
	return nil
}

// drainExecutions waits for running executions to reach a terminal
// status, cancelling whatever remains when the timeout expires.
func drainExecutions(eng *engine.Engine, timeout time.Duration) {
	running := eng.RunningExecutions()
	if len(running) == 0 {
		return
	}

	log.Printf("easybatch: waiting up to %s for %d running executions...", timeout, len(running))
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if len(eng.RunningExecutions()) == 0 {
			log.Println("easybatch: all executions finished")
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	remaining := eng.RunningExecutions()
	log.Printf("easybatch: drain timeout, cancelling %d executions", len(remaining))
	for _, id := range remaining {
		if err := eng.Cancel(id); err != nil {
			log.Printf("easybatch: cancel execution=%s: %v", id, err)
		}
	}

	// Give cancelled executions a moment to persist their terminal status.
	for waited := time.Duration(0); waited < 5*time.Second; waited += 250 * time.Millisecond {
		if len(eng.RunningExecutions()) == 0 {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// logLifecycleEvents writes terse execution lifecycle logs. Import
// progress is high-volume and surfaced via the progress API instead.
func logLifecycleEvents(event domain.ExecutionEvent) {
	if event.Type == domain.EventImportProgress {
		return
	}
	log.Printf("event: %s execution=%s job=%s %s", event.Type, event.ExecutionID, event.JobID, event.Message)
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("easybatch version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
