package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/config"
	"github.com/budgy/budgy/internal/logging"
)

func testConfig() config.Config {
	return config.Config{
		AppName:         "Budgy",
		Env:             "development",
		Port:            "0",
		JWTSecret:       "test-secret",
		RefreshSecret:   "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		ShutdownPeriod:  time.Second,
		IdempotencyTTL:  time.Minute,
	}
}

func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	if err := Setup(app, Deps{Cfg: testConfig(), Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func setupAppWithCache(t *testing.T) *fiber.App {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	if err := Setup(app, Deps{Cfg: testConfig(), Cache: cache, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func register(t *testing.T, app *fiber.App, email string) string {
	t.Helper()
	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/auth/register", "", fiber.Map{
		"email": email, "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/auth/login", "", fiber.Map{
		"email": email, "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, resp, &login)
	if login.AccessToken == "" {
		t.Fatalf("no access token returned")
	}
	return login.AccessToken
}

type walletBody struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

type entryBody struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
}

func TestWalletAndTransactionFlow(t *testing.T) {
	app := setupApp(t)
	token := register(t, app, "flow@example.com")

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets", token, fiber.Map{
		"name": "Checking", "color": "#2563eb", "icon": "bank",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create wallet status %d", resp.StatusCode)
	}
	var w walletBody
	decode(t, resp, &w)
	if !w.Balance.IsZero() {
		t.Fatalf("new wallet balance %s, want 0", w.Balance)
	}

	txPath := fmt.Sprintf("/api/v1/wallets/%s/transactions", w.ID)

	resp = doJSON(t, app, fiber.MethodPost, txPath, token, fiber.Map{
		"type": "in", "amount": 500.00, "description": "salary",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply credit status %d", resp.StatusCode)
	}
	var first entryBody
	decode(t, resp, &first)
	if !first.ResultingBalance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("resulting balance %s, want 500", first.ResultingBalance)
	}

	resp = doJSON(t, app, fiber.MethodPost, txPath, token, fiber.Map{
		"type": "out", "amount": 50.00, "description": "groceries",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply debit status %d", resp.StatusCode)
	}
	var second entryBody
	decode(t, resp, &second)
	if !second.ResultingBalance.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("resulting balance %s, want 450", second.ResultingBalance)
	}

	resp = doJSON(t, app, fiber.MethodGet, txPath, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var entries []entryBody
	decode(t, resp, &entries)
	if len(entries) != 2 || entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("unexpected listing: %+v", entries)
	}

	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/wallets/"+w.ID, token, nil)
	var fetched walletBody
	decode(t, resp, &fetched)
	if !fetched.Balance.Equal(decimal.NewFromInt(450)) {
		t.Fatalf("wallet balance %s, want 450", fetched.Balance)
	}
}

func TestTransactionsRequireSession(t *testing.T) {
	app := setupApp(t)

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets/some-id/transactions", "", fiber.Map{
		"type": "in", "amount": 10,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestForeignWalletIsMasked(t *testing.T) {
	app := setupApp(t)
	owner := register(t, app, "owner@example.com")
	intruder := register(t, app, "intruder@example.com")

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets", owner, fiber.Map{
		"name": "Private", "color": "#000", "icon": "lock",
	})
	var w walletBody
	decode(t, resp, &w)

	// Read path masks the wallet entirely.
	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/wallets/"+w.ID, intruder, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign read, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Mutation path distinguishes with 403.
	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/wallets/"+w.ID+"/transactions", intruder, fiber.Map{
		"type": "out", "amount": 10,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign mutation, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSoftDeleteEndpointFlow(t *testing.T) {
	app := setupApp(t)
	token := register(t, app, "del@example.com")

	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/wallets", token, fiber.Map{
		"name": "Old", "color": "#000", "icon": "box",
	})
	var w walletBody
	decode(t, resp, &w)

	resp = doJSON(t, app, fiber.MethodDelete, "/api/v1/wallets/"+w.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/wallets", token, nil)
	var wallets []walletBody
	decode(t, resp, &wallets)
	if len(wallets) != 0 {
		t.Fatalf("deleted wallet still listed: %+v", wallets)
	}

	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/wallets/"+w.ID+"/transactions", token, fiber.Map{
		"type": "in", "amount": 5,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 applying to deleted wallet, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIdempotentRetryRequiresSession(t *testing.T) {
	app := setupAppWithCache(t)
	token := register(t, app, "replay@example.com")

	body := fiber.Map{"name": "Savings", "color": "#16a34a", "icon": "piggy"}

	first := httptest.NewRequest(fiber.MethodPost, "/api/v1/wallets", encodeBody(t, body))
	first.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	first.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	first.Header.Set("Idempotency-Key", "create-savings")
	resp, err := app.Test(first, -1)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The same key without a session must hit the 401 wall, not the stored
	// response.
	bare := httptest.NewRequest(fiber.MethodPost, "/api/v1/wallets", encodeBody(t, body))
	bare.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	bare.Header.Set("Idempotency-Key", "create-savings")
	resp, err = app.Test(bare, -1)
	if err != nil {
		t.Fatalf("unauthenticated retry: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated replay got status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Another user reusing the key gets their own execution, not the first
	// user's wallet.
	other := register(t, app, "other@example.com")
	resp = doJSONWithKey(t, app, fiber.MethodPost, "/api/v1/wallets", other, "create-savings", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("other user create status %d", resp.StatusCode)
	}
	var w walletBody
	decode(t, resp, &w)

	listResp := doJSON(t, app, fiber.MethodGet, "/api/v1/wallets", other, nil)
	var wallets []walletBody
	decode(t, listResp, &wallets)
	if len(wallets) != 1 || wallets[0].ID != w.ID {
		t.Fatalf("expected the other user's own wallet, got %+v", wallets)
	}

	// An authenticated retry by the original owner replays without creating a
	// second wallet.
	retry := doJSONWithKey(t, app, fiber.MethodPost, "/api/v1/wallets", token, "create-savings", body)
	if retry.StatusCode != http.StatusCreated {
		t.Fatalf("owner retry status %d", retry.StatusCode)
	}
	retry.Body.Close()
	listResp = doJSON(t, app, fiber.MethodGet, "/api/v1/wallets", token, nil)
	decode(t, listResp, &wallets)
	if len(wallets) != 1 {
		t.Fatalf("retry created a duplicate wallet: %d wallets", len(wallets))
	}
}

func encodeBody(t *testing.T, body any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return &buf
}

func doJSONWithKey(t *testing.T, app *fiber.App, method, path, token, key string, body any) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, encodeBody(t, body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	req.Header.Set("Idempotency-Key", key)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}
