package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/oeistools/oeissync/internal/config"
	"github.com/oeistools/oeissync/internal/crawl"
	"github.com/oeistools/oeissync/internal/fetcher/httpfetch"
	"github.com/oeistools/oeissync/internal/logging"
	"github.com/oeistools/oeissync/internal/policy/ratelimit"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Find the highest record id the remote database currently serves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			waitHist := prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "oeissync",
				Name:      "rate_limit_wait_seconds",
				Help:      "Delay imposed by the outbound rate limiter.",
				Buckets:   prometheus.DefBuckets,
			})
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

			retry := &crawl.RetryPolicy{
				MaxAttempts:      cfg.Retry.MaxAttempts,
				BaseDelay:        cfg.RetryBaseDelay(),
				Multiplier:       cfg.Retry.Multiplier,
				MaxDelay:         cfg.RetryMaxDelay(),
				MaxThrottleWaits: cfg.Retry.MaxThrottleWaits,
			}
			highest, err := crawl.NewProber(fetcher, retry, logger).HighestID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", highest)
			return nil
		},
	}
}
