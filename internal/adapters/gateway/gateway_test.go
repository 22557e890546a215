package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/gateway"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

func TestCardChargeSendsIdempotencyKey(t *testing.T) {
	t.Parallel()
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["amount"] != float64(40000) || body["currency"] != "gbp" {
			t.Errorf("unexpected charge body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","metadata":{"reference":"TXN-001"}}`))
	}))
	defer srv.Close()

	gw := gateway.NewCardGateway(gateway.Config{BaseURL: srv.URL, APIKey: "sk_test"})
	res, err := gw.InitiateCharge(context.Background(), ports.ChargeRequest{
		AmountMinor:     40000,
		Currency:        "GBP",
		PayerInstrument: "pm_1",
		IdempotencyKey:  "TXN-001",
	})
	if err != nil {
		t.Fatalf("initiate charge: %v", err)
	}
	if res.GatewayRef != "pi_1" || res.Status != domain.GatewayStatusSucceeded {
		t.Fatalf("unexpected charge result: %+v", res)
	}
	if gotKey != "TXN-001" || gotAuth != "Bearer sk_test" {
		t.Fatalf("unexpected headers: key=%q auth=%q", gotKey, gotAuth)
	}
}

func TestGatewayErrorClassification(t *testing.T) {
	t.Parallel()
	cases := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusBadGateway, retryable: true},
		{status: http.StatusServiceUnavailable, retryable: true},
		{status: http.StatusBadRequest, retryable: false},
		{status: http.StatusPaymentRequired, retryable: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"declined"}}`))
			}))
			defer srv.Close()

			gw := gateway.NewCardGateway(gateway.Config{BaseURL: srv.URL})
			_, err := gw.InitiateCharge(context.Background(), ports.ChargeRequest{AmountMinor: 100, Currency: "GBP", IdempotencyKey: "TXN-X"})
			var gwErr *domain.GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected gateway error, got %v", err)
			}
			if gwErr.Retryable != tc.retryable || gwErr.StatusCode != tc.status {
				t.Fatalf("unexpected classification: %+v", gwErr)
			}
		})
	}
}

func TestGatewayTimeoutIsRetryable(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gw := gateway.NewOpenBankingGateway(gateway.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := gw.InitiatePayout(context.Background(), ports.PayoutRequest{AmountMinor: 100, Currency: "GBP", IdempotencyKey: "WDR-1"})
	if !domain.IsRetryableGatewayError(err) {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
}

func TestStatusLookupNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := gateway.Config{BaseURL: srv.URL}
	gateways := []ports.Gateway{
		gateway.NewCardGateway(cfg),
		gateway.NewOpenBankingGateway(cfg),
		gateway.NewLocalBankGateway(cfg),
	}
	for _, gw := range gateways {
		charge, err := gw.GetChargeStatus(context.Background(), "TXN-404")
		if err != nil || charge.Status != domain.GatewayStatusNotFound {
			t.Fatalf("%s charge status: status=%s err=%v", gw.Name(), charge.Status, err)
		}
		payout, err := gw.GetPayoutStatus(context.Background(), "WDR-404")
		if err != nil || payout.Status != domain.GatewayStatusNotFound {
			t.Fatalf("%s payout status: status=%s err=%v", gw.Name(), payout.Status, err)
		}
	}
}

func TestCardWebhookSignature(t *testing.T) {
	t.Parallel()
	gw := gateway.NewCardGateway(gateway.Config{WebhookSecret: "whsec"})
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded","metadata":{"reference":"TXN-001"}}}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	header := fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	if !gw.VerifyWebhookSignature(body, header) {
		t.Fatalf("expected valid signature")
	}
	if gw.VerifyWebhookSignature(append([]byte(" "), body...), header) {
		t.Fatalf("expected tampered body to fail")
	}
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	mac = hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(stale + "."))
	mac.Write(body)
	if gw.VerifyWebhookSignature(body, fmt.Sprintf("t=%s,v1=%s", stale, hex.EncodeToString(mac.Sum(nil)))) {
		t.Fatalf("expected stale timestamp to fail")
	}

	event, err := gw.ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.EventID != "evt_1" || event.Kind != domain.OperationCharge || event.Reference != "TXN-001" || event.Status != domain.GatewayStatusSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestOpenBankingWebhook(t *testing.T) {
	t.Parallel()
	gw := gateway.NewOpenBankingGateway(gateway.Config{WebhookSecret: "ob-secret"})
	body := []byte(`{"event_id":"ob_evt","event_type":"payout.status_changed","resource":{"id":"po_9","reference":"WDR-9","status":"RETURNED"}}`)
	mac := hmac.New(sha256.New, []byte("ob-secret"))
	mac.Write(body)
	if !gw.VerifyWebhookSignature(body, base64.StdEncoding.EncodeToString(mac.Sum(nil))) {
		t.Fatalf("expected valid signature")
	}
	if gw.VerifyWebhookSignature(body, "bm90LWEtc2ln") {
		t.Fatalf("expected invalid signature")
	}
	event, err := gw.ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Kind != domain.OperationPayout || event.Status != domain.GatewayStatusReversed || event.Reference != "WDR-9" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestLocalBankWebhook(t *testing.T) {
	t.Parallel()
	gw := gateway.NewLocalBankGateway(gateway.Config{WebhookSecret: "lb-secret"})
	body := []byte(`{"event":"charge.success","data":{"id":3021,"reference":"TXN-001","status":"success"}}`)
	mac := hmac.New(sha512.New, []byte("lb-secret"))
	mac.Write(body)
	if !gw.VerifyWebhookSignature(body, hex.EncodeToString(mac.Sum(nil))) {
		t.Fatalf("expected valid signature")
	}
	event, err := gw.ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.EventID != "" || event.GatewayRef != "3021" || event.Status != domain.GatewayStatusSucceeded {
		t.Fatalf("unexpected event: %+v", event)
	}

	_, err = gw.ParseWebhook([]byte(`{"event":"subscription.create","data":{}}`))
	if !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported event type, got %v", err)
	}
}

func newSelector(t *testing.T, routes []gateway.Route) (*gateway.Selector, error) {
	t.Helper()
	cfg := gateway.Config{}
	return gateway.NewSelector([]ports.Gateway{
		gateway.NewCardGateway(cfg),
		gateway.NewOpenBankingGateway(cfg),
		gateway.NewLocalBankGateway(cfg),
	}, routes)
}

func TestSelectorRouting(t *testing.T) {
	t.Parallel()
	sel, err := newSelector(t, []gateway.Route{
		{Currency: "gbp", Charge: []domain.GatewayName{domain.GatewayCard, domain.GatewayOpenBanking}, Payout: []domain.GatewayName{domain.GatewayOpenBanking}},
		{Currency: "NGN", Charge: []domain.GatewayName{domain.GatewayLocalBank}, Payout: []domain.GatewayName{domain.GatewayLocalBank}},
	})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	gw, err := sel.Select(ports.SelectionInput{Currency: "GBP", Operation: domain.OperationCharge})
	if err != nil || gw.Name() != domain.GatewayCard {
		t.Fatalf("default charge gateway: gw=%v err=%v", gw, err)
	}
	gw, err = sel.Select(ports.SelectionInput{Currency: "GBP", Operation: domain.OperationCharge, PreferredGateway: domain.GatewayOpenBanking})
	if err != nil || gw.Name() != domain.GatewayOpenBanking {
		t.Fatalf("preferred charge gateway: gw=%v err=%v", gw, err)
	}
	gw, err = sel.Select(ports.SelectionInput{Currency: "GBP", Operation: domain.OperationPayout, PreferredGateway: domain.GatewayCard})
	if err != nil || gw.Name() != domain.GatewayOpenBanking {
		t.Fatalf("preferred gateway outside route must be ignored: gw=%v err=%v", gw, err)
	}
	if _, err := sel.Select(ports.SelectionInput{Currency: "USD", Operation: domain.OperationCharge}); !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Fatalf("expected unsupported currency, got %v", err)
	}
	if _, err := sel.ByName("paypal"); !errors.Is(err, domain.ErrUnknownGateway) {
		t.Fatalf("expected unknown gateway, got %v", err)
	}
}

func TestSelectorRejectsIncompleteRoutes(t *testing.T) {
	t.Parallel()
	if _, err := newSelector(t, []gateway.Route{{Currency: "GBP", Charge: []domain.GatewayName{domain.GatewayCard}}}); !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Fatalf("expected missing payout route to fail, got %v", err)
	}
	if _, err := newSelector(t, []gateway.Route{{Currency: "GBP", Charge: []domain.GatewayName{"paypal"}, Payout: []domain.GatewayName{domain.GatewayCard}}}); !errors.Is(err, domain.ErrUnknownGateway) {
		t.Fatalf("expected unregistered gateway to fail, got %v", err)
	}
}
