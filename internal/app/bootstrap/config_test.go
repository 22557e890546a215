package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
)

const sampleConfig = `
service:
  id: settlement-test
  http_port: 18080
gateways:
  localbank:
    enabled: true
    base_url: https://bank.test
    timeout_seconds: 4
  openbanking:
    enabled: false
  routes:
    - currency: ngn
      charge: [localbank, card]
      payout: [localbank]
settlement:
  split_remainder: last
  auto_charge_enabled: false
  sweep_interval_seconds: 300
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMergesFileAndEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/settlement")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOCALBANK_API_KEY", "sk_live")
	t.Setenv("LOCALBANK_WEBHOOK_SECRET", "whsec")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceID != "settlement-test" || cfg.HTTPPort != 18080 || cfg.GRPCPort != 9090 {
		t.Fatalf("unexpected service section: %+v", cfg)
	}
	if cfg.LocalBank.BaseURL != "https://bank.test" || cfg.LocalBank.Timeout != 4*time.Second {
		t.Fatalf("unexpected localbank config: %+v", cfg.LocalBank)
	}
	if cfg.LocalBank.APIKey != "sk_live" || cfg.LocalBank.WebhookSecret != "whsec" {
		t.Fatalf("credentials not read from env: %+v", cfg.LocalBank)
	}
	if cfg.OpenBanking.Enabled {
		t.Fatalf("openbanking should be disabled")
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Currency != "NGN" || strings.Join(cfg.Routes[0].Charge, ",") != "localbank,card" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
	if cfg.SplitRemainder != "last" || cfg.AutoChargeEnabled || cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected settlement section: remainder=%s auto=%v sweep=%s", cfg.SplitRemainder, cfg.AutoChargeEnabled, cfg.SweepInterval)
	}
	if strings.Join(cfg.KafkaBrokers, ",") != "k1:9092,k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigRequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing required settings")
	}
	for _, want := range []string{"missing DB_URL/POSTGRES_URL", "missing JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestBuildSelectorRejectsRouteToDisabledGateway(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/settlement")
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := BuildSelector(cfg); err != nil {
		t.Fatalf("build selector: %v", err)
	}

	cfg.Routes = append(cfg.Routes, RouteConfig{Currency: "GBP", Charge: []string{"card"}, Payout: []string{"openbanking"}})
	if _, err := BuildSelector(cfg); err == nil {
		t.Fatalf("expected route naming a disabled gateway to be rejected")
	}
}

func TestServiceConfigCarriesSettlementSettings(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/settlement")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GATEWAY_RETRY_BASE_DELAY_MS", "250")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svcCfg := serviceConfig(cfg)
	if svcCfg.SplitRemainder != domain.SplitRemainderLast {
		t.Fatalf("unexpected remainder: got=%s", svcCfg.SplitRemainder)
	}
	if svcCfg.GatewayRetry.BaseDelay != 250*time.Millisecond || svcCfg.GatewayRetry.MaxAttempts != 3 {
		t.Fatalf("unexpected retry policy: %+v", svcCfg.GatewayRetry)
	}
}
