package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/instabets/marketd/internal/domain"
	"github.com/instabets/marketd/internal/resolver"
	"github.com/instabets/marketd/internal/service"
)

// fakeMarketService records calls and returns canned results.
type fakeMarketService struct {
	market     domain.Market
	detail     service.MarketDetail
	verdict    resolver.Verdict
	record     domain.ResolutionRecord
	getErr     error
	betErr     error
	resolveErr error

	betMarketID uint64
	betYes      bool
	betAmount   *big.Int
}

func (f *fakeMarketService) CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error) {
	return f.market, nil
}

func (f *fakeMarketService) CreateLiveMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, string, error) {
	return f.market, "job-42", nil
}

func (f *fakeMarketService) GetMarketDetail(ctx context.Context, marketID uint64) (service.MarketDetail, error) {
	if f.getErr != nil {
		return service.MarketDetail{}, f.getErr
	}
	return f.detail, nil
}

func (f *fakeMarketService) ListMarkets(ctx context.Context) ([]domain.Market, error) {
	return []domain.Market{f.market}, nil
}

func (f *fakeMarketService) PlaceBet(ctx context.Context, marketID uint64, betYes bool, amountWei *big.Int) (string, error) {
	if f.betErr != nil {
		return "", f.betErr
	}
	f.betMarketID = marketID
	f.betYes = betYes
	f.betAmount = amountWei
	return "0xabc", nil
}

func (f *fakeMarketService) Resolve(ctx context.Context, marketID uint64) (resolver.Verdict, error) {
	if f.resolveErr != nil {
		return resolver.Verdict{}, f.resolveErr
	}
	return f.verdict, nil
}

func (f *fakeMarketService) GetResolution(ctx context.Context, marketID uint64) (domain.ResolutionRecord, error) {
	if f.getErr != nil {
		return domain.ResolutionRecord{}, f.getErr
	}
	return f.record, nil
}

var _ MarketService = (*fakeMarketService)(nil)

func newMarketMux(svc MarketService) *http.ServeMux {
	h := NewMarketHandler(svc, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.HandleFunc("POST /api/markets/live", h.CreateLiveMarket)
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/bet", h.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Resolve)
	mux.HandleFunc("GET /api/markets/{id}/resolution", h.GetResolution)
	return mux
}

func doRequest(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func futureDeadline() int64 {
	return time.Now().Add(24 * time.Hour).Unix()
}

func TestCreateMarketValidation(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing question", fmt.Sprintf(`{"deadline":%d}`, futureDeadline())},
		{"past deadline", `{"question":"Will it rain?","deadline":100}`},
		{"question too long", fmt.Sprintf(`{"question":%q,"deadline":%d}`, strings.Repeat("x", 501), futureDeadline())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/api/markets", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateMarketReturnsCreated(t *testing.T) {
	svc := &fakeMarketService{market: domain.Market{ID: 7, Question: "Will it rain?"}}
	mux := newMarketMux(svc)

	body := fmt.Sprintf(`{"question":"Will it rain?","deadline":%d}`, futureDeadline())
	rec := doRequest(mux, http.MethodPost, "/api/markets", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var got domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("market id = %d, want 7", got.ID)
	}
}

func TestCreateLiveMarketRequiresStream(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{})

	body := fmt.Sprintf(`{"question":"Did the streamer win?","deadline":%d}`, futureDeadline())
	rec := doRequest(mux, http.MethodPost, "/api/markets/live", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	body = fmt.Sprintf(`{"question":"Did the streamer win?","deadline":%d,"streamUrl":"rtmp://x","condition":"goal scored"}`, futureDeadline())
	rec = doRequest(mux, http.MethodPost, "/api/markets/live", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID != "job-42" {
		t.Fatalf("job id = %q, want job-42", resp.JobID)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{getErr: domain.ErrNotFound})

	rec := doRequest(mux, http.MethodGet, "/api/markets/5", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetMarketRejectsBadID(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{})

	for _, path := range []string{"/api/markets/0", "/api/markets/abc"} {
		rec := doRequest(mux, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestPlaceBet(t *testing.T) {
	svc := &fakeMarketService{}
	mux := newMarketMux(svc)

	rec := doRequest(mux, http.MethodPost, "/api/markets/3/bet", `{"betYes":false,"amount":"1000000000000000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.betMarketID != 3 || svc.betYes {
		t.Fatalf("bet call = (%d, %v)", svc.betMarketID, svc.betYes)
	}
	if svc.betAmount.String() != "1000000000000000000" {
		t.Fatalf("amount = %s", svc.betAmount)
	}
}

func TestPlaceBetValidation(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{})

	tests := []struct {
		name string
		body string
	}{
		{"missing side", `{"amount":"100"}`},
		{"missing amount", `{"betYes":true}`},
		{"zero amount", `{"betYes":true,"amount":"0"}`},
		{"negative amount", `{"betYes":true,"amount":"-5"}`},
		{"float amount", `{"betYes":true,"amount":"1.5"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/api/markets/3/bet", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPlaceBetOnResolvedMarketConflicts(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{betErr: domain.ErrAlreadyResolved})

	rec := doRequest(mux, http.MethodPost, "/api/markets/3/bet", `{"betYes":true,"amount":"100"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestResolveReportsVerdictStates(t *testing.T) {
	tests := []struct {
		name       string
		verdict    resolver.Verdict
		wantStatus string
	}{
		{
			name: "resolved",
			verdict: resolver.Verdict{
				Outcome: domain.OutcomeYes,
				TxHash:  "0xdef",
			},
			wantStatus: "resolved",
		},
		{
			name:       "gated",
			verdict:    resolver.Verdict{Gated: true},
			wantStatus: "gated",
		},
		{
			name:       "already settled",
			verdict:    resolver.Verdict{AlreadySettled: true, Outcome: domain.OutcomeNo},
			wantStatus: "already_settled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMarketMux(&fakeMarketService{verdict: tt.verdict})
			rec := doRequest(mux, http.MethodPost, "/api/markets/4/resolve", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Fatalf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestResolveUnparsableOracleIsBadGateway(t *testing.T) {
	mux := newMarketMux(&fakeMarketService{
		resolveErr: fmt.Errorf("resolver: %w", domain.ErrUnparsableOracleResponse),
	})

	rec := doRequest(mux, http.MethodPost, "/api/markets/4/resolve", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestGetResolution(t *testing.T) {
	svc := &fakeMarketService{record: domain.ResolutionRecord{
		MarketID: 9,
		Outcome:  domain.OutcomeYes,
		Trigger:  domain.TriggerWebhook,
	}}
	mux := newMarketMux(svc)

	rec := doRequest(mux, http.MethodGet, "/api/markets/9/resolution", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got domain.ResolutionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.MarketID != 9 || got.Trigger != domain.TriggerWebhook {
		t.Fatalf("record = %+v", got)
	}
}
