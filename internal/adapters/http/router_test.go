package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/cache"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/gateway"
	httpadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/http"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
)

const (
	testJWTSecret     = "router-test-secret"
	testWebhookSecret = "localbank-webhook-secret"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Code string `json:"code"`
	} `json:"error"`
}

type harness struct {
	server *httptest.Server
}

// newHarness wires the router to in-memory stores and a fake local bank that keeps
// every charge in processing until a webhook settles it.
func newHarness(t *testing.T) *harness {
	t.Helper()
	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/transaction/charge_authorization":
			_, _ = fmt.Fprintf(w, `{"status":true,"message":"ok","data":{"id":9001,"reference":%q,"status":"ongoing"}}`, body["reference"])
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"status":false,"message":"not found"}`)
		}
	}))
	t.Cleanup(bank.Close)

	localBank := gateway.NewLocalBankGateway(gateway.Config{BaseURL: bank.URL, APIKey: "sk_test", WebhookSecret: testWebhookSecret})
	selector, err := gateway.NewSelector([]ports.Gateway{localBank}, []gateway.Route{{
		Currency: "NGN",
		Charge:   []domain.GatewayName{domain.GatewayLocalBank},
		Payout:   []domain.GatewayName{domain.GatewayLocalBank},
	}})
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	repos := postgres.NewMemoryRepositories()
	memCache := cache.NewMemoryCache()
	svc := application.NewService(application.Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Campaigns:      repos.Campaigns,
		Milestones:     repos.Milestones,
		Transactions:   repos.Transactions,
		Settlement:     repos.Settlement,
		Payouts:        repos.Payouts,
		Withdrawals:    repos.Withdrawals,
		BankAccounts:   repos.BankAccounts,
		PaymentMethods: repos.PaymentMethods,
		Settings:       repos.Settings,
		Webhooks:       repos.Webhooks,
		Outbox:         repos.Outbox,
		Idempotency:    repos.Idempotency,
		EventDedup:     repos.EventDedup,
		Gateways:       selector,
		SettingsCache:  memCache,
		Locker:         memCache,
		Sleep:          func(context.Context, time.Duration) error { return nil },
	})
	verifier, err := httpadapter.NewTokenVerifier(testJWTSecret, "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	server := httptest.NewServer(httpadapter.NewRouter(httpadapter.NewHandler(svc, selector), verifier))
	t.Cleanup(server.Close)
	return &harness{server: server}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if method != http.MethodGet {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	var out envelope
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func (h *harness) webhook(t *testing.T, gatewayName string, body []byte, signature string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/v1/webhooks/"+gatewayName, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Localbank-Signature", signature)
	res, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	var ack struct {
		Outcome string `json:"outcome"`
	}
	_ = json.NewDecoder(res.Body).Decode(&ack)
	return res.StatusCode, ack.Outcome
}

func signLocalBank(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAuthenticatedRoutesRequireBearerToken(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(t, http.MethodGet, "/v1/campaigns/any", "", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", status, http.StatusUnauthorized)
	}
	if body.Error.Code != "unauthorized" {
		t.Fatalf("unexpected code: got=%s", body.Error.Code)
	}
}

func TestMutationsRequireRequestID(t *testing.T) {
	h := newHarness(t)
	req, _ := http.NewRequest(http.MethodPost, h.server.URL+"/v1/campaigns", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token(t, "brand-1", "brand"))
	res, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestWebhookWithBadSignatureIsRejected(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"event":"charge.success","data":{"id":1,"reference":"TXN-NOPE","status":"success"}}`)
	status, _ := h.webhook(t, "localbank", body, "deadbeef")
	if status != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", status, http.StatusUnauthorized)
	}
}

func TestWebhookForUnknownGatewayIsNotFound(t *testing.T) {
	h := newHarness(t)
	status, _ := h.webhook(t, "carrier-pigeon", []byte(`{}`), "x")
	if status != http.StatusNotFound {
		t.Fatalf("unexpected status: got=%d want=%d", status, http.StatusNotFound)
	}
}

func TestChargeSettledByWebhookOnceAcrossDuplicateDeliveries(t *testing.T) {
	h := newHarness(t)
	brand := token(t, "brand-1", "brand")

	status, _ := h.do(t, http.MethodPost, "/v1/campaigns", brand, map[string]any{
		"campaign_id":           "camp-1",
		"brand_id":              "brand-1",
		"influencer_id":         "inf-1",
		"total_amount_in_pence": 120000,
		"currency":              "NGN",
		"payment_type":          "MILESTONE",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("unexpected register status: got=%d want=%d", status, http.StatusCreated)
	}
	status, _ = h.do(t, http.MethodPost, "/v1/payment-methods", brand, map[string]any{
		"user_id":    "brand-1",
		"gateway":    "localbank",
		"token":      "AUTH_abc",
		"is_default": true,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("unexpected payment method status: got=%d want=%d", status, http.StatusCreated)
	}
	status, body := h.do(t, http.MethodPost, "/v1/campaigns/camp-1/milestones", brand, map[string]any{"count": 3}, nil)
	if status != http.StatusCreated {
		t.Fatalf("unexpected milestones status: got=%d want=%d", status, http.StatusCreated)
	}
	var milestones []domain.PaymentMilestone
	if err := json.Unmarshal(body.Data, &milestones); err != nil || len(milestones) != 3 {
		t.Fatalf("unexpected milestones: err=%v body=%s", err, body.Data)
	}

	status, body = h.do(t, http.MethodPost, "/v1/milestones/"+milestones[0].MilestoneID+"/charge", brand, nil, nil)
	if status != http.StatusAccepted {
		t.Fatalf("unexpected charge status: got=%d want=%d body=%s", status, http.StatusAccepted, body.Data)
	}
	var txn domain.Transaction
	if err := json.Unmarshal(body.Data, &txn); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if txn.Status != domain.TransactionStatusProcessing {
		t.Fatalf("unexpected transaction status: got=%s want=%s", txn.Status, domain.TransactionStatusProcessing)
	}

	hook := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"id":9001,"reference":%q,"status":"success"}}`, txn.TransactionReference))
	for i, want := range []string{domain.WebhookOutcomeApplied, domain.WebhookOutcomeApplied} {
		status, outcome := h.webhook(t, "localbank", hook, signLocalBank(hook))
		if status != http.StatusOK || outcome != want {
			t.Fatalf("delivery %d: got=%d/%s want=%d/%s", i+1, status, outcome, http.StatusOK, want)
		}
	}

	status, body = h.do(t, http.MethodGet, "/v1/transactions/"+txn.TransactionID, brand, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected transaction status code: got=%d want=%d", status, http.StatusOK)
	}
	if err := json.Unmarshal(body.Data, &txn); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if txn.Status != domain.TransactionStatusCompleted {
		t.Fatalf("unexpected transaction status: got=%s want=%s", txn.Status, domain.TransactionStatusCompleted)
	}
}

func TestWithdrawalAboveAvailableBalanceIsRejected(t *testing.T) {
	h := newHarness(t)
	influencer := token(t, "inf-1", "influencer")

	status, _ := h.do(t, http.MethodPost, "/v1/bank-accounts", influencer, map[string]any{
		"influencer_id":  "inf-1",
		"account_name":   "Ada Obi",
		"bank_code":      "058",
		"account_number": "0123456789",
		"currency":       "NGN",
		"gateway":        "localbank",
		"recipient_ref":  "RCP_123",
		"is_default":     true,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("unexpected bank account status: got=%d want=%d", status, http.StatusCreated)
	}

	request := map[string]any{"influencer_id": "inf-1", "amount_in_pence": 5000, "currency": "NGN"}
	status, body := h.do(t, http.MethodPost, "/v1/withdrawals", influencer, request, nil)
	if status != http.StatusBadRequest || body.Error.Code != "idempotency_key_required" {
		t.Fatalf("unexpected status without key: got=%d code=%s", status, body.Error.Code)
	}
	status, body = h.do(t, http.MethodPost, "/v1/withdrawals", influencer, request, map[string]string{"Idempotency-Key": "wd-1"})
	if status != http.StatusUnprocessableEntity || body.Error.Code != "insufficient_balance" {
		t.Fatalf("unexpected status: got=%d code=%s want=%d", status, body.Error.Code, http.StatusUnprocessableEntity)
	}

	status, body = h.do(t, http.MethodGet, "/v1/influencers/inf-1/balance?currency=NGN", influencer, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("unexpected balance status: got=%d want=%d", status, http.StatusOK)
	}
	var balance domain.Balance
	if err := json.Unmarshal(body.Data, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.AvailableInPence != 0 {
		t.Fatalf("unexpected available balance: got=%d want=0", balance.AvailableInPence)
	}
}

func TestInfluencerCannotReadAnotherInfluencersBalance(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(t, http.MethodGet, "/v1/influencers/inf-2/balance?currency=NGN", token(t, "inf-1", "influencer"), nil, nil)
	if status != http.StatusForbidden || body.Error.Code != "forbidden" {
		t.Fatalf("unexpected status: got=%d code=%s want=%d", status, body.Error.Code, http.StatusForbidden)
	}
}
