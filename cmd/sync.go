package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/oeistools/oeissync/internal/api"
	"github.com/oeistools/oeissync/internal/clock/system"
	"github.com/oeistools/oeissync/internal/config"
	"github.com/oeistools/oeissync/internal/crawl"
	"github.com/oeistools/oeissync/internal/fetcher/httpfetch"
	"github.com/oeistools/oeissync/internal/hash/sha256"
	idgen "github.com/oeistools/oeissync/internal/id/uuid"
	"github.com/oeistools/oeissync/internal/logging"
	"github.com/oeistools/oeissync/internal/oeis"
	"github.com/oeistools/oeissync/internal/policy/ratelimit"
	"github.com/oeistools/oeissync/internal/progress"
	"github.com/oeistools/oeissync/internal/progress/sinks"
	pubsubpub "github.com/oeistools/oeissync/internal/publisher/pubsub"
	"github.com/oeistools/oeissync/internal/storage/postgres"
	"github.com/oeistools/oeissync/internal/telemetry"
)

type syncFlags struct {
	start       int64
	end         int64
	since       time.Duration
	workers     int
	rate        float64
	maxAttempts int
	resume      bool
	fresh       bool
	noAttach    bool
}

func newSyncCmd() *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass against the remote database",
		Long: `Runs one pass over an id range or, with --since, over records whose
content has gone stale. With --end 0 the upper bound is probed from the
remote database. Exit codes: 0 completed, 2 aborted on storage failure,
3 interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flags)
		},
	}
	cmd.Flags().Int64Var(&flags.start, "start", 1, "first id of the pass range")
	cmd.Flags().Int64Var(&flags.end, "end", 0, "last id of the pass range (0 probes the remote for the highest id)")
	cmd.Flags().DurationVar(&flags.since, "since", 0, "incremental mode: refresh records older than this (e.g. 720h)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "fetch worker pool size (overrides config)")
	cmd.Flags().Float64Var(&flags.rate, "rate", 0, "sustained requests per second (overrides config)")
	cmd.Flags().IntVar(&flags.maxAttempts, "max-attempts", 0, "transient failure budget per id (overrides config)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "continue the most recent unfinished pass")
	cmd.Flags().BoolVar(&flags.fresh, "fresh", false, "ignore any unfinished pass and start over")
	cmd.Flags().BoolVar(&flags.noAttach, "no-attachments", false, "skip b-file fetching")
	cmd.MarkFlagsMutuallyExclusive("resume", "fresh")
	cmd.MarkFlagsMutuallyExclusive("since", "start")
	return cmd
}

func runSync(cmd *cobra.Command, flags syncFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applySyncFlags(&cfg, cmd, flags)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "oeissync",
		Version:     version,
		ProjectID:   cfg.PubSub.ProjectID,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	waitHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "oeissync",
		Name:      "rate_limit_wait_seconds",
		Help:      "Delay imposed by the outbound rate limiter.",
		Buckets:   prometheus.DefBuckets,
	})
	registry.MustRegister(waitHist)

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close", zap.Error(err))
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{MaxRPS: cfg.Remote.MaxRPS, Burst: cfg.Remote.Burst}, waitHist)
	fetcher, err := httpfetch.New(httpfetch.Config{
		BaseURL:      cfg.Remote.BaseURL,
		UserAgent:    cfg.Remote.UserAgent,
		Timeout:      cfg.RemoteTimeout(),
		MaxBodyBytes: cfg.Remote.MaxBodyBytes,
	}, limiter)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	retry := &crawl.RetryPolicy{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseDelay:        cfg.RetryBaseDelay(),
		Multiplier:       cfg.Retry.Multiplier,
		MaxDelay:         cfg.RetryMaxDelay(),
		MaxThrottleWaits: cfg.Retry.MaxThrottleWaits,
	}

	end := oeis.RecordID(cfg.Sync.End)
	if end == 0 && cfg.Since() == 0 && !flags.resume {
		prober := crawl.NewProber(fetcher, retry, logger)
		highest, err := prober.HighestID(ctx)
		if err != nil {
			return fmt.Errorf("probe highest id: %w", err)
		}
		end = highest
	}

	deps := crawl.Deps{
		Fetcher: fetcher,
		Store:   store,
		Hasher:  sha256.New(),
		Retry:   retry,
		Clock:   system.New(),
		IDGen:   idgen.NewGenerator(),
		Emitter: hub,
		Logger:  logger,
	}

	var topic string
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsubv2.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close()
		deps.Publisher = pubsubpub.New(client.Publisher(cfg.PubSub.TopicName))
		topic = cfg.PubSub.TopicName
	}

	coord, err := crawl.New(crawl.Config{
		Workers:          cfg.Sync.Workers,
		Start:            oeis.RecordID(cfg.Sync.Start),
		End:              end,
		Since:            cfg.Since(),
		StaleLimit:       cfg.Sync.StaleLimit,
		Resume:           flags.resume,
		FetchAttachments: cfg.Sync.FetchAttachments,
		PublishTopic:     topic,
	}, deps)
	if err != nil {
		return err
	}

	httpSrv := startAPIServer(cfg, store, coord, registry, logger)
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Warn("api server shutdown", zap.Error(err))
		}
	}()

	runCtx, span := otel.Tracer("oeissync/cmd").Start(ctx, "sync.pass")
	summary, err := coord.Run(runCtx)
	span.End()
	switch summary.State.Status {
	case oeis.PassAborted:
		return &exitError{code: 2, msg: fmt.Sprintf("pass aborted: %v", err)}
	case oeis.PassInterrupted:
		return &exitError{code: 3, msg: "pass interrupted; rerun with --resume to continue"}
	default:
		return err
	}
}

func applySyncFlags(cfg *config.Config, cmd *cobra.Command, flags syncFlags) {
	if cmd.Flags().Changed("start") {
		cfg.Sync.Start = flags.start
	}
	if cmd.Flags().Changed("end") {
		cfg.Sync.End = flags.end
	}
	if cmd.Flags().Changed("since") {
		// Round up so sub-hour values still select incremental mode.
		cfg.Sync.SinceHours = int((flags.since + time.Hour - 1) / time.Hour)
	}
	if flags.workers > 0 {
		cfg.Sync.Workers = flags.workers
	}
	if flags.rate > 0 {
		cfg.Remote.MaxRPS = flags.rate
	}
	if flags.maxAttempts > 0 {
		cfg.Retry.MaxAttempts = flags.maxAttempts
	}
	if flags.noAttach {
		cfg.Sync.FetchAttachments = false
	}
}

func startAPIServer(cfg config.Config, store oeis.Store, coord *crawl.Coordinator, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	apiSrv := api.NewServer(api.Config{
		APIKey:         apiKeyIfEnabled(cfg),
		RequestTimeout: cfg.ServerTimeout(),
	}, store, coord, registry, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", zap.Error(err))
		}
	}()
	return srv
}

func apiKeyIfEnabled(cfg config.Config) string {
	if cfg.Auth.Enabled {
		return cfg.Auth.APIKey
	}
	return ""
}
