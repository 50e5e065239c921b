package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/apollo-enricher/internal/config"
	"github.com/Sternrassler/apollo-enricher/pkg/client"
	"github.com/Sternrassler/apollo-enricher/pkg/enrich"
	"github.com/Sternrassler/apollo-enricher/pkg/logging"
	"github.com/Sternrassler/apollo-enricher/pkg/metrics"
	"github.com/Sternrassler/apollo-enricher/pkg/report"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps run flags to config keys.
var flagKeys = map[string]string{
	"api-key":        config.KeyAPIKey,
	"base-url":       config.KeyBaseURL,
	"webhook-url":    config.KeyWebhookURL,
	"location":       config.KeyLocations,
	"max-pages":      config.KeyMaxPages,
	"per-page":       config.KeyPerPage,
	"pace-interval":  config.KeyPaceInterval,
	"timeout":        config.KeyTimeout,
	"retry-attempts": config.KeyRetryAttempts,
	"redis-addr":     config.KeyRedisAddr,
	"cache-ttl":      config.KeyCacheTTL,
	"normalize":      config.KeyNormalize,
	"phone-region":   config.KeyPhoneRegion,
	"output":         config.KeyOutput,
	"log-level":      config.KeyLogLevel,
	"log-pretty":     config.KeyLogPretty,
	"metrics-addr":   config.KeyMetricsAddr,
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search people page by page and enrich each one",
		Long: `Run requests search pages 1..max-pages in order. Every person on a page is
enriched and printed as "Phone: ... | Email: ...". Paging stops at the first
empty or failed page. API failures are reported and do not fail the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrich(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.String("api-key", "", "Apollo API key (prefer APOLLO_ENRICHER_API_KEY)")
	f.String("base-url", client.DefaultBaseURL, "Apollo API base url")
	f.String("webhook-url", "", "webhook receiving asynchronous phone reveals")
	f.StringArray("location", nil, `person location filter, repeatable (default "Florida, United States")`)
	f.Int("max-pages", 5, "last search page requested")
	f.Int("per-page", 10, "people per search page")
	f.Duration("pace-interval", 500*time.Millisecond, "minimum gap between API calls")
	f.Duration("timeout", 30*time.Second, "timeout of a single HTTP attempt")
	f.Int("retry-attempts", 3, "attempts per request for 429, 5xx and network errors")
	f.String("redis-addr", "", "redis address for shared quota state and the enrichment cache")
	f.Duration("cache-ttl", 7*24*time.Hour, "enrichment cache ttl, 0 disables the cache")
	f.Bool("normalize", true, "format phone numbers as E.164 and lowercase emails")
	f.String("phone-region", "US", "region for phone numbers without a country code")
	f.StringP("output", "o", "text", "output format: text or json")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.Bool("log-pretty", false, "human readable logs on stderr")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// bindFlags binds flags that were set explicitly, so unset flags do not
// shadow the environment and the config file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

func runEnrich(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}

	v, err := config.NewViper(opts.configFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logger := logging.Setup(logCfg)

	runID := uuid.NewString()
	logger.Info().
		Str("run_id", runID).
		Str("version", version).
		Object("config", cfg).
		Msg("Configuration loaded")

	var redisClient *redis.Client
	if redisOpts := cfg.RedisOptions(); redisOpts != nil {
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	apollo, err := client.New(cfg.ClientConfig(redisClient))
	if err != nil {
		return err
	}
	defer apollo.Close()

	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			srv := metrics.NewServer(cfg.MetricsAddr, logging.NewLogger("metrics"))
			if err := srv.ListenAndServe(metricsCtx); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			stopMetrics()
			<-done
		}()
	}

	reporter := report.New(cfg.Output, cmd.OutOrStdout(), runID)
	driver, err := enrich.NewDriver(apollo, reporter, cfg.DriverConfig(runID),
		enrich.WithLogger(logging.NewLogger("enrich-driver")),
	)
	if err != nil {
		return err
	}

	_, err = driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Warn().Str("run_id", runID).Msg("Run interrupted")
	}
	return err
}
