package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GatewayConfig struct {
	Enabled       bool
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type RouteConfig struct {
	Currency string
	Charge   []string
	Payout   []string
}

type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string

	JWTSecret string
	JWTIssuer string

	KafkaBrokers           []string
	KafkaConsumerGroup     string
	TopicCampaignBooked    string
	TopicCampaignCancelled string
	// EventTopics maps an outbox event type to its topic; unmapped types publish
	// to a topic named after the event type.
	EventTopics map[string]string

	Card        GatewayConfig
	OpenBanking GatewayConfig
	LocalBank   GatewayConfig
	Routes      []RouteConfig

	SplitRemainder       string
	InfluencerFeePct     string
	BrandFeePct          string
	AutoChargeEnabled    bool
	MaxChargeAttempts    int
	PayoutAutoRelease    bool
	DefaultDueInterval   time.Duration
	RetryMaxAttempts     int
	RetryBaseDelay       time.Duration
	SweepInterval        time.Duration
	SweepBatchSize       int
	SweepConcurrency     int
	InFlightStaleAfter   time.Duration
	WithdrawalStuckAfter time.Duration
	WebhookReplayAfter   time.Duration

	IdempotencyTTL       time.Duration
	EventDedupTTL        time.Duration
	SettingsCacheTTL     time.Duration
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxClaimTTL       time.Duration
	OutboxMaxRetries     int
	ConsumerPollInterval time.Duration
}

type gatewayFile struct {
	Enabled        *bool  `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		MaxDBConns             int32             `yaml:"max_db_conns"`
		KafkaBrokers           []string          `yaml:"kafka_brokers"`
		KafkaConsumerGroup     string            `yaml:"kafka_consumer_group"`
		TopicCampaignBooked    string            `yaml:"topic_campaign_booked"`
		TopicCampaignCancelled string            `yaml:"topic_campaign_cancelled"`
		EventTopics            map[string]string `yaml:"event_topics"`
		JWTIssuer              string            `yaml:"jwt_issuer"`
	} `yaml:"dependencies"`
	Gateways struct {
		Card        gatewayFile `yaml:"card"`
		OpenBanking gatewayFile `yaml:"openbanking"`
		LocalBank   gatewayFile `yaml:"localbank"`
		Routes      []struct {
			Currency string   `yaml:"currency"`
			Charge   []string `yaml:"charge"`
			Payout   []string `yaml:"payout"`
		} `yaml:"routes"`
	} `yaml:"gateways"`
	Settlement struct {
		SplitRemainder          string `yaml:"split_remainder"`
		InfluencerFeePct        string `yaml:"influencer_fee_percentage"`
		BrandFeePct             string `yaml:"brand_fee_percentage"`
		AutoChargeEnabled       *bool  `yaml:"auto_charge_enabled"`
		MaxChargeAttempts       int    `yaml:"max_charge_attempts"`
		PayoutAutoRelease       *bool  `yaml:"payout_auto_release"`
		DefaultDueIntervalDays  int    `yaml:"default_due_interval_days"`
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelayMillis    int    `yaml:"retry_base_delay_ms"`
		SweepIntervalSeconds    int    `yaml:"sweep_interval_seconds"`
		SweepBatchSize          int    `yaml:"sweep_batch_size"`
		SweepConcurrency        int    `yaml:"sweep_concurrency"`
		InFlightStaleSeconds    int    `yaml:"in_flight_stale_seconds"`
		WithdrawalStuckMinutes  int    `yaml:"withdrawal_stuck_minutes"`
		WebhookReplaySeconds    int    `yaml:"webhook_replay_seconds"`
		SettingsCacheTTLSeconds int    `yaml:"settings_cache_ttl_seconds"`
	} `yaml:"settlement"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:              "M15-Settlement-Engine",
		HTTPPort:               8080,
		GRPCPort:               9090,
		MaxDBConns:             20,
		KafkaConsumerGroup:     "m15-settlement-engine",
		TopicCampaignBooked:    "campaign.booked",
		TopicCampaignCancelled: "campaign.cancelled",
		EventTopics:            map[string]string{},
		Card:                   GatewayConfig{Enabled: true, BaseURL: "https://api.card-processor.example", Timeout: 10 * time.Second},
		OpenBanking:            GatewayConfig{Enabled: true, BaseURL: "https://api.openbanking.example", Timeout: 10 * time.Second},
		LocalBank:              GatewayConfig{Enabled: true, BaseURL: "https://api.localbank.example", Timeout: 10 * time.Second},
		Routes: []RouteConfig{
			{Currency: "GBP", Charge: []string{"card"}, Payout: []string{"openbanking"}},
			{Currency: "EUR", Charge: []string{"card"}, Payout: []string{"openbanking"}},
			{Currency: "USD", Charge: []string{"card"}, Payout: []string{"card"}},
			{Currency: "NGN", Charge: []string{"localbank", "card"}, Payout: []string{"localbank"}},
		},
		SplitRemainder:       "first",
		InfluencerFeePct:     "10",
		BrandFeePct:          "0",
		AutoChargeEnabled:    true,
		MaxChargeAttempts:    3,
		PayoutAutoRelease:    false,
		DefaultDueInterval:   30 * 24 * time.Hour,
		RetryMaxAttempts:     3,
		RetryBaseDelay:       time.Second,
		SweepInterval:        time.Hour,
		SweepBatchSize:       100,
		SweepConcurrency:     8,
		InFlightStaleAfter:   2 * time.Minute,
		WithdrawalStuckAfter: 15 * time.Minute,
		WebhookReplayAfter:   time.Minute,
		IdempotencyTTL:       7 * 24 * time.Hour,
		EventDedupTTL:        7 * 24 * time.Hour,
		SettingsCacheTTL:     5 * time.Minute,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
		ConsumerPollInterval: 2 * time.Second,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.TopicCampaignBooked = envOrDefault("KAFKA_TOPIC_CAMPAIGN_BOOKED", cfg.TopicCampaignBooked)
	cfg.TopicCampaignCancelled = envOrDefault("KAFKA_TOPIC_CAMPAIGN_CANCELLED", cfg.TopicCampaignCancelled)

	applyGatewayEnv("CARD", &cfg.Card)
	applyGatewayEnv("OPENBANKING", &cfg.OpenBanking)
	applyGatewayEnv("LOCALBANK", &cfg.LocalBank)

	cfg.SplitRemainder = envOrDefault("MILESTONE_SPLIT_REMAINDER", cfg.SplitRemainder)
	cfg.InfluencerFeePct = envOrDefault("INFLUENCER_FEE_PERCENTAGE", cfg.InfluencerFeePct)
	cfg.BrandFeePct = envOrDefault("BRAND_FEE_PERCENTAGE", cfg.BrandFeePct)
	cfg.AutoChargeEnabled = envBool("MILESTONE_AUTO_CHARGE_ENABLED", cfg.AutoChargeEnabled)
	cfg.MaxChargeAttempts = envInt("MILESTONE_MAX_CHARGE_ATTEMPTS", cfg.MaxChargeAttempts)
	cfg.PayoutAutoRelease = envBool("PAYOUT_AUTO_RELEASE", cfg.PayoutAutoRelease)
	cfg.RetryMaxAttempts = envInt("GATEWAY_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryBaseDelay = time.Duration(envInt("GATEWAY_RETRY_BASE_DELAY_MS", int(cfg.RetryBaseDelay.Milliseconds()))) * time.Millisecond
	cfg.SweepInterval = time.Duration(envInt("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.SweepConcurrency = envInt("SWEEP_CONCURRENCY", cfg.SweepConcurrency)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.MaxDBConns > 0 {
		cfg.MaxDBConns = f.Dependencies.MaxDBConns
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
	}
	if f.Dependencies.TopicCampaignBooked != "" {
		cfg.TopicCampaignBooked = f.Dependencies.TopicCampaignBooked
	}
	if f.Dependencies.TopicCampaignCancelled != "" {
		cfg.TopicCampaignCancelled = f.Dependencies.TopicCampaignCancelled
	}
	for eventType, topic := range f.Dependencies.EventTopics {
		cfg.EventTopics[eventType] = topic
	}
	if f.Dependencies.JWTIssuer != "" {
		cfg.JWTIssuer = f.Dependencies.JWTIssuer
	}

	applyGatewayFile(&cfg.Card, f.Gateways.Card)
	applyGatewayFile(&cfg.OpenBanking, f.Gateways.OpenBanking)
	applyGatewayFile(&cfg.LocalBank, f.Gateways.LocalBank)
	if len(f.Gateways.Routes) > 0 {
		routes := make([]RouteConfig, 0, len(f.Gateways.Routes))
		for _, route := range f.Gateways.Routes {
			routes = append(routes, RouteConfig{
				Currency: strings.ToUpper(strings.TrimSpace(route.Currency)),
				Charge:   trimNonEmpty(route.Charge),
				Payout:   trimNonEmpty(route.Payout),
			})
		}
		cfg.Routes = routes
	}

	s := f.Settlement
	if s.SplitRemainder != "" {
		cfg.SplitRemainder = s.SplitRemainder
	}
	if s.InfluencerFeePct != "" {
		cfg.InfluencerFeePct = s.InfluencerFeePct
	}
	if s.BrandFeePct != "" {
		cfg.BrandFeePct = s.BrandFeePct
	}
	if s.AutoChargeEnabled != nil {
		cfg.AutoChargeEnabled = *s.AutoChargeEnabled
	}
	if s.MaxChargeAttempts > 0 {
		cfg.MaxChargeAttempts = s.MaxChargeAttempts
	}
	if s.PayoutAutoRelease != nil {
		cfg.PayoutAutoRelease = *s.PayoutAutoRelease
	}
	if s.DefaultDueIntervalDays > 0 {
		cfg.DefaultDueInterval = time.Duration(s.DefaultDueIntervalDays) * 24 * time.Hour
	}
	if s.RetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = s.RetryMaxAttempts
	}
	if s.RetryBaseDelayMillis > 0 {
		cfg.RetryBaseDelay = time.Duration(s.RetryBaseDelayMillis) * time.Millisecond
	}
	if s.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(s.SweepIntervalSeconds) * time.Second
	}
	if s.SweepBatchSize > 0 {
		cfg.SweepBatchSize = s.SweepBatchSize
	}
	if s.SweepConcurrency > 0 {
		cfg.SweepConcurrency = s.SweepConcurrency
	}
	if s.InFlightStaleSeconds > 0 {
		cfg.InFlightStaleAfter = time.Duration(s.InFlightStaleSeconds) * time.Second
	}
	if s.WithdrawalStuckMinutes > 0 {
		cfg.WithdrawalStuckAfter = time.Duration(s.WithdrawalStuckMinutes) * time.Minute
	}
	if s.WebhookReplaySeconds > 0 {
		cfg.WebhookReplayAfter = time.Duration(s.WebhookReplaySeconds) * time.Second
	}
	if s.SettingsCacheTTLSeconds > 0 {
		cfg.SettingsCacheTTL = time.Duration(s.SettingsCacheTTLSeconds) * time.Second
	}
}

func applyGatewayFile(dst *GatewayConfig, f gatewayFile) {
	if f.Enabled != nil {
		dst.Enabled = *f.Enabled
	}
	if f.BaseURL != "" {
		dst.BaseURL = f.BaseURL
	}
	if f.TimeoutSeconds > 0 {
		dst.Timeout = time.Duration(f.TimeoutSeconds) * time.Second
	}
}

// applyGatewayEnv reads credentials, which never live in the config file.
func applyGatewayEnv(prefix string, dst *GatewayConfig) {
	dst.Enabled = envBool(prefix+"_ENABLED", dst.Enabled)
	dst.BaseURL = envOrDefault(prefix+"_BASE_URL", dst.BaseURL)
	dst.APIKey = envOrDefault(prefix+"_API_KEY", dst.APIKey)
	dst.WebhookSecret = envOrDefault(prefix+"_WEBHOOK_SECRET", dst.WebhookSecret)
	dst.Timeout = time.Duration(envInt(prefix+"_TIMEOUT_SECONDS", int(dst.Timeout.Seconds()))) * time.Second
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("missing DB_URL/POSTGRES_URL"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("missing JWT_SECRET"))
	}
	switch c.SplitRemainder {
	case "first", "last":
	default:
		errs = append(errs, fmt.Errorf("invalid split remainder %q", c.SplitRemainder))
	}
	if len(c.Routes) == 0 {
		errs = append(errs, errors.New("no gateway routes configured"))
	}
	return errors.Join(errs...)
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	items := strings.Split(raw, ",")
	return trimNonEmpty(items)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
