package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/personapack/botsuite/internal/access"
	"github.com/personapack/botsuite/internal/api"
	"github.com/personapack/botsuite/internal/api/handlers"
	"github.com/personapack/botsuite/internal/config"
	"github.com/personapack/botsuite/internal/fulfillment"
	"github.com/personapack/botsuite/internal/messenger"
	"github.com/personapack/botsuite/internal/orders"
	"github.com/personapack/botsuite/internal/store"
	"github.com/personapack/botsuite/pkg/models"
)

const catalogYAML = `
bots:
  unpack: {username: unpack_bot, title: Unpacking}
products:
  - code: unpack
    title: Unpacking
    price: 2990
    targets: [unpack]
`

const apiKey = "admin-key"

type fixture struct {
	srv    *httptest.Server
	ledger *orders.Ledger
	msgr   *messenger.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cat, err := orders.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}
	if err := cat.Seed(ctx, s); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	ledger := orders.NewLedger(s, cat)
	tokens := access.NewService(s)
	msgr := messenger.NewRecorder()
	d := fulfillment.NewDispatcher(s, ledger, tokens, cat, msgr, 72*time.Hour).
		WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) })
	h := handlers.New(ledger, cat, d, tokens, access.NewGate(s, tokens, nil), 72*time.Hour)

	cfg := &config.Config{Version: "test", Admin: config.AdminConfig{APIKeys: []string{apiKey}}}
	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, ledger: ledger, msgr: msgr}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (f *fixture) newOrder(t *testing.T, buyer int64) int64 {
	t.Helper()
	o, err := f.ledger.Create(context.Background(), buyer, "unpack")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return o.ID
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/api/v1/orders")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /api/v1/orders without key = %d, want 401", resp.StatusCode)
	}
}

func TestConfirmStatusMapping(t *testing.T) {
	f := newFixture(t)
	id := f.newOrder(t, 42)
	path := fmt.Sprintf("/api/v1/orders/%d/confirm", id)

	resp, body := f.do(t, http.MethodPost, path, "")
	if resp.StatusCode != http.StatusOK || body["delivered"] != true {
		t.Fatalf("first confirm = %d %v", resp.StatusCode, body)
	}
	if toks, _ := body["tokens"].([]interface{}); len(toks) != 1 {
		t.Errorf("tokens = %v, want 1", body["tokens"])
	}

	resp, body = f.do(t, http.MethodPost, path, "")
	if resp.StatusCode != http.StatusOK || body["already_paid"] != true {
		t.Errorf("repeat confirm = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/orders/999/confirm", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("confirm missing = %d, want 404", resp.StatusCode)
	}

	rejected := f.newOrder(t, 43)
	if resp, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/reject", rejected), ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("reject = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/confirm", rejected), "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("confirm rejected = %d, want 409", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/reject", id), "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("reject paid = %d, want 409", resp.StatusCode)
	}
}

func TestConfirmDeliveryFailed(t *testing.T) {
	f := newFixture(t)
	id := f.newOrder(t, 50)
	f.msgr.Block(50)

	resp, body := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/confirm", id), "")
	if resp.StatusCode != http.StatusBadGateway || body["error"] != "delivery_failed" {
		t.Fatalf("confirm to blocked buyer = %d %v", resp.StatusCode, body)
	}

	o, err := f.ledger.Get(context.Background(), id)
	if err != nil || o.Status != models.OrderPaid {
		t.Fatalf("order after failed delivery = %+v, %v; want paid", o, err)
	}

	f.msgr.Unblock(50)
	resp, body = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/redeliver", id), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeliver = %d %v", resp.StatusCode, body)
	}
	if len(f.msgr.Sent(50)) != 1 {
		t.Errorf("buyer messages = %d, want 1", len(f.msgr.Sent(50)))
	}
}

func TestOrdersListAndGet(t *testing.T) {
	f := newFixture(t)
	id := f.newOrder(t, 7)
	f.newOrder(t, 8)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/v1/orders?status=pending&buyer=7", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", apiKey)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var list []models.Order
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Amount != 299000 {
		t.Errorf("list = %+v", list)
	}

	if r, _ := f.do(t, http.MethodGet, "/api/v1/orders?status=bogus", ""); r.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", r.StatusCode)
	}
	if r, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", id), ""); r.StatusCode != http.StatusOK || body["amount"] != "2990.00" {
		t.Errorf("get order = %d %v", r.StatusCode, body)
	}
	if r, _ := f.do(t, http.MethodGet, "/api/v1/orders/abc", ""); r.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d, want 400", r.StatusCode)
	}
}

func TestIssueTokenAndCheckAccess(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/tokens", `{"user_id": 9, "target": "unpack", "ttl": "1h"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue = %d %v", resp.StatusCode, body)
	}
	if link, _ := body["link"].(string); !strings.HasPrefix(link, "https://t.me/unpack_bot?start=") {
		t.Errorf("link = %v", body["link"])
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/v1/tokens", `{"user_id": 9, "target": "ghost"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown target = %d, want 400", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/api/v1/access/9/unpack", "")
	if body["allowed"] != false {
		t.Errorf("access before redemption = %v, want false", body["allowed"])
	}
}

func TestPromoAffectsNewOrdersOnly(t *testing.T) {
	f := newFixture(t)
	before := f.newOrder(t, 1)

	resp, body := f.do(t, http.MethodPut, "/api/v1/promos/unpack", `{"price": "1990.00"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set promo = %d %v", resp.StatusCode, body)
	}
	after := f.newOrder(t, 1)

	ctx := context.Background()
	ob, _ := f.ledger.Get(ctx, before)
	oa, _ := f.ledger.Get(ctx, after)
	if ob.Amount != 299000 || oa.Amount != 199000 {
		t.Errorf("amounts = %s / %s, want 2990.00 / 1990.00", ob.Amount, oa.Amount)
	}

	if resp, _ := f.do(t, http.MethodPut, "/api/v1/promos/ghost", `{"price": "1"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("promo for unknown product = %d, want 404", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodDelete, "/api/v1/promos/unpack", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear promo = %d, want 204", resp.StatusCode)
	}
	restored, _ := f.ledger.Get(ctx, f.newOrder(t, 1))
	if restored.Amount != 299000 {
		t.Errorf("amount after clearing promo = %s, want 2990.00", restored.Amount)
	}
}
