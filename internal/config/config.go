// Package config loads Kestrel settings from an optional YAML file and
// KESTREL_* environment variables on top of the tier defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// KESTREL_SERVER_PORT or KESTREL_RECONCILIATION_TOLERANCE.
const EnvPrefix = "KESTREL"

// Load builds the configuration. When path is empty a kestrel.yaml in the
// working directory is used if present; an explicit path must exist.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kestrel")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tier", string(domain.TierCommunity))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// The tier picks the base the remaining keys default to.
	var base *domain.Config
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case domain.TierCommunity:
		base = domain.DefaultConfig()
	case domain.TierPro:
		base = domain.ProConfig()
	default:
		return nil, fmt.Errorf("config: unknown tier %q", tier)
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Tier = base.Tier

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("reconciliation.tolerance", c.Reconciliation.Tolerance)
	v.SetDefault("reconciliation.compare_igst", c.Reconciliation.CompareIGST)
	v.SetDefault("reconciliation.workers", c.Reconciliation.Workers)
	v.SetDefault("reconciliation.eligibility_ttl", c.Reconciliation.EligibilityTTL)

	tiers := make([]string, len(c.Risk.AlertTiers))
	for i, t := range c.Risk.AlertTiers {
		tiers[i] = string(t)
	}
	v.SetDefault("risk.expected_periods", c.Risk.ExpectedPeriods)
	v.SetDefault("risk.workers", c.Risk.Workers)
	v.SetDefault("risk.trees", c.Risk.Trees)
	v.SetDefault("risk.max_depth", c.Risk.MaxDepth)
	v.SetDefault("risk.seed", c.Risk.Seed)
	v.SetDefault("risk.degree_mean", c.Risk.DegreeMean)
	v.SetDefault("risk.degree_std", c.Risk.DegreeStd)
	v.SetDefault("risk.population_degree_stats", c.Risk.PopulationDegreeStats)
	v.SetDefault("risk.alert_tiers", tiers)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

func validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	for i, t := range cfg.Risk.AlertTiers {
		tier, ok := domain.ParseRiskTier(strings.ToUpper(string(t)))
		if !ok {
			return fmt.Errorf("config: invalid alert tier %q", t)
		}
		cfg.Risk.AlertTiers[i] = tier
	}
	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("config: invalid log level %q", s)
	}
	return level, nil
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
