package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	app "github.com/rafflehouse/raffle-engine/internal/app"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	appmetrics "github.com/rafflehouse/raffle-engine/internal/app/metrics"
	"github.com/rafflehouse/raffle-engine/internal/config"
)

func testAppConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			Owner:  "owner",
			Admins: []string{"admin"},
		},
		Scheduler: config.SchedulerConfig{Enabled: true, Spec: "@every 30s"},
		Raffle: config.RaffleConfig{
			TreasuryWallet:   "treasury",
			CharityWallet:    "charity",
			ExpenseWallet:    "expense",
			ServiceFeeWallet: "fees",

			WinnerBP:      5000,
			CharityBP:     100,
			LuckyRefundBP: 200,
			TreasuryBP:    700,
			MaxMarginBP:   3000,
			ServiceFeeBP:  50,

			ClaimRewardDuration:      168 * time.Hour,
			ClaimRefundDuration:      720 * time.Hour,
			ClaimLuckyRefundDuration: 720 * time.Hour,

			MaxRerollAttempts: 3,
		},
	}
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	application, err := app.New(testAppConfig(), app.Stores{}, app.Options{Metrics: appmetrics.New(reg)}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return NewHandler(application, Options{RateLimit: 1000, Burst: 1000, Gatherer: reg}, nil)
}

// callerRequest authenticates through the tokenless header fallback.
func callerRequest(method, url, caller string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if caller != "" {
		req.Header.Set("X-Caller-Address", caller)
	}
	return req
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

func TestHandlerLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	createBody := marshal(map[string]any{
		"account_id":       "acct-1",
		"category":         "physical",
		"prize_name":       "headphones",
		"prize_value":      80,
		"ticket_price":     10,
		"duration_seconds": 86400,
	})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles", "admin", createBody))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create raffle, got %d: %s", resp.Code, resp.Body.String())
	}
	var created raffle.Raffle
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal raffle: %v", err)
	}
	if created.MinTickets != 9 || created.MaxTickets != 11 {
		t.Fatalf("bounds: min %d max %d", created.MinTickets, created.MaxTickets)
	}
	id := created.ID

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles", "b1", createBody))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 non-admin create, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles?account=acct-1", "b1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list raffles, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/nope", "b1", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown raffle, got %d", resp.Code)
	}

	// Sell out: five buyers with two tickets each, one more with a single
	// ticket reaches the maximum of 11.
	buyBody := marshal(map[string]any{"quantity": 2})
	for _, buyer := range []string{"b1", "b2", "b3", "b4", "b5"} {
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/tickets", buyer, buyBody))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 buy for %s, got %d: %s", buyer, resp.Code, resp.Body.String())
		}
	}
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/tickets", "b6", marshal(map[string]any{"quantity": 1})))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 final buy, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/tickets", "b7", buyBody))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 oversell, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/"+id+"/entries", "b1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 entries, got %d", resp.Code)
	}
	var entries []raffle.Entry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(entries) != 6 || entries[5].Cumulative != 11 {
		t.Fatalf("entries ledger: %+v", entries)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/"+id+"/participants/b2", "b2", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 participant, got %d", resp.Code)
	}

	// A trigger pass moves the sold-out raffle to HAPPENING and then CLOSED
	// within the same tick.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/trigger", "admin", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 trigger, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/scheduler", "b1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 scheduler status, got %d", resp.Code)
	}
	var sched struct {
		Spec string `json:"spec"`
		Runs int64  `json:"runs"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &sched); err != nil {
		t.Fatalf("unmarshal scheduler status: %v", err)
	}
	if sched.Runs < 1 || sched.Spec == "" {
		t.Fatalf("scheduler status: %+v", sched)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/"+id, "b1", nil))
	var closed raffle.Raffle
	if err := json.Unmarshal(resp.Body.Bytes(), &closed); err != nil {
		t.Fatalf("unmarshal closed raffle: %v", err)
	}
	if closed.Status != raffle.StatusClosed {
		t.Fatalf("status after trigger: got %s, want closed", closed.Status)
	}
	if closed.RandomRequestID == "" {
		t.Fatalf("closed raffle has no randomness request")
	}

	// Value 13 over 11 tickets sold is winning number 3: inside b2's range.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost,
		"/api/v1/randomness/"+closed.RandomRequestID+"/fulfill", "admin",
		marshal(map[string]any{"value": 13})))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 fulfill, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost,
		"/api/v1/randomness/"+closed.RandomRequestID+"/fulfill", "admin",
		marshal(map[string]any{"value": 14})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 replayed fulfill, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/"+id, "b1", nil))
	var drawn raffle.Raffle
	if err := json.Unmarshal(resp.Body.Bytes(), &drawn); err != nil {
		t.Fatalf("unmarshal drawn raffle: %v", err)
	}
	if drawn.Winner != "b2" {
		t.Fatalf("winner: got %s, want b2", drawn.Winner)
	}
	if drawn.SkillTestQuestion != "What is 23 - 10?" {
		t.Fatalf("skill test: %q", drawn.SkillTestQuestion)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles/"+id+"/lucky-refund", "b1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 lucky refund record, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/claim", "b1",
		marshal(map[string]any{"answer": 13})))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 non-winner claim, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/claim", "b2",
		marshal(map[string]any{"answer": 13})))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 claim, got %d: %s", resp.Code, resp.Body.String())
	}
	var settled raffle.Raffle
	if err := json.Unmarshal(resp.Body.Bytes(), &settled); err != nil {
		t.Fatalf("unmarshal settled raffle: %v", err)
	}
	if settled.Status != raffle.StatusEnded {
		t.Fatalf("status after claim: got %s, want ended", settled.Status)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles/"+id+"/pause", "admin", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 pause ended raffle, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/accounts/acct-1/stats", "admin", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 stats, got %d", resp.Code)
	}
	var stats raffle.Stats
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.TicketsSold != 11 {
		t.Fatalf("stats tickets sold: got %d, want 11", stats.TicketsSold)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 metrics, got %d", resp.Code)
	}
	if resp.Body.Len() == 0 {
		t.Fatalf("expected metrics output to be non-empty")
	}
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	handler := newTestHandler(t)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodPost, "/api/v1/raffles", "admin",
		marshal(map[string]any{"account_id": "acct-1", "bogus": true})))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown field, got %d", resp.Code)
	}
}

func TestHandlerJWTAuth(t *testing.T) {
	reg := prometheus.NewRegistry()
	application, err := app.New(testAppConfig(), app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application, Options{JWTSecret: "secret", RateLimit: 1000, Burst: 1000, Gatherer: reg}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/raffles", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	// The header fallback is disabled once a secret is configured.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles", "admin", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with header only, got %d", resp.Code)
	}

	token, err := IssueToken("secret", "admin", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/raffles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.Code)
	}

	forged, err := IssueToken("wrong-secret", "admin", time.Hour)
	if err != nil {
		t.Fatalf("issue forged token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/raffles", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with forged token, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health without token, got %d", resp.Code)
	}
}

func TestHandlerRateLimit(t *testing.T) {
	application, err := app.New(testAppConfig(), app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application, Options{RateLimit: 1, Burst: 1}, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles", "b1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles", "b1", nil))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 second request, got %d", resp.Code)
	}

	// A different caller has its own bucket.
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, callerRequest(http.MethodGet, "/api/v1/raffles", "b2", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 other caller, got %d", resp.Code)
	}
}
