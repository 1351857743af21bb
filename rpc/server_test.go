package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"

	"deedescrow/native/registry"
	"deedescrow/storage/audit"
)

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testJWTSecret, Issuer: "rpc-tests", Audience: "unit-tests"})
	newReq := func(header string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return req
	}

	good, err := IssueToken(testJWTSecret, buyer, "rpc-tests", "unit-tests", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	caller, rpcErr := auth.Identity(newReq("Bearer " + good))
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	if caller != buyer {
		t.Fatalf("caller %s, want buyer", caller)
	}

	wrongSecret, _ := IssueToken("other-secret", buyer, "rpc-tests", "unit-tests", time.Minute)
	wrongAudience, _ := IssueToken(testJWTSecret, buyer, "rpc-tests", "elsewhere", time.Minute)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   buyer.String(),
		Issuer:    "rpc-tests",
		Audience:  jwt.ClaimStrings{"unit-tests"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	expiredToken, _ := expired.SignedString([]byte(testJWTSecret))
	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-an-address",
		Issuer:    "rpc-tests",
		Audience:  jwt.ClaimStrings{"unit-tests"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	badSubjectToken, _ := badSubject.SignedString([]byte(testJWTSecret))

	for name, header := range map[string]string{
		"missing":        "",
		"basic scheme":   "Basic abc",
		"empty bearer":   "Bearer ",
		"wrong secret":   "Bearer " + wrongSecret,
		"wrong audience": "Bearer " + wrongAudience,
		"expired":        "Bearer " + expiredToken,
		"bad subject":    "Bearer " + badSubjectToken,
	} {
		if _, rpcErr := auth.Identity(newReq(header)); rpcErr == nil || rpcErr.Code != codeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %+v", name, rpcErr)
		}
	}
}

func TestIssueTokenValidatesInput(t *testing.T) {
	if _, err := IssueToken(" ", buyer, "", "", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := IssueToken(testJWTSecret, buyer, "", "", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	env := newTestEnvWith(t, envOptions{rateLimit: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}})
	if _, rpcErr, _ := env.call(&buyer, "bank_transfer", map[string]string{"to": stranger.String(), "amount": "1"}); rpcErr != nil {
		t.Fatalf("first call failed: %+v", rpcErr)
	}
	_, rpcErr, status := env.call(&buyer, "bank_transfer", map[string]string{"to": stranger.String(), "amount": "1"})
	if rpcErr == nil || rpcErr.Code != codeRateLimited || status != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %+v (%d)", rpcErr, status)
	}
	if _, rpcErr, _ := env.call(&lender, "bank_transfer", map[string]string{"to": stranger.String(), "amount": "1"}); rpcErr != nil {
		t.Fatalf("other caller throttled: %+v", rpcErr)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected healthz response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	env.listAsset("10", "5")
	resp, err = env.http.Client().Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "deedescrow_rpc_requests_total") {
		t.Fatalf("rpc metrics not exported")
	}
}

func TestRegistryTransferAndAssets(t *testing.T) {
	env := newTestEnv(t)
	var asset AssetJSON
	env.mustCall(&seller, "registry_mint", map[string]string{"uri": "ipfs://deed/7"}, &asset)
	env.mustCall(&seller, "registry_setOperator", map[string]interface{}{"operator": stranger.String(), "approved": true}, nil)
	env.mustCall(&stranger, "registry_transfer", map[string]string{"assetId": asset.ID, "from": seller.String(), "to": buyer.String()}, &asset)
	if asset.Owner != buyer.String() {
		t.Fatalf("owner %s, want buyer", asset.Owner)
	}

	var owned []AssetJSON
	env.mustCall(nil, "registry_assets", map[string]string{"owner": buyer.String()}, &owned)
	if len(owned) != 1 || owned[0].ID != asset.ID {
		t.Fatalf("unexpected assets %+v", owned)
	}

	_, rpcErr, status := env.call(&stranger, "registry_transfer", map[string]string{"assetId": asset.ID, "from": buyer.String(), "to": stranger.String()})
	if rpcErr == nil || status != http.StatusForbidden {
		t.Fatalf("expected forbidden transfer, got %+v (%d)", rpcErr, status)
	}
	_, rpcErr, status = env.call(nil, "registry_ownerOf", map[string]string{"assetId": "99"})
	if rpcErr == nil || rpcErr.Code != codeEscrowNotFound || status != http.StatusNotFound {
		t.Fatalf("expected not found, got %+v (%d)", rpcErr, status)
	}
}

func TestEventsWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?type=registry."
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	env.mustCall(&seller, "registry_mint", map[string]string{"uri": "ipfs://deed/ws"}, nil)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt EventJSON
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != registry.EventTypeMinted {
		t.Fatalf("unexpected event %s", evt.Type)
	}
	if evt.Attributes["uri"] != "ipfs://deed/ws" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}

func TestAuditMethods(t *testing.T) {
	disabled := newTestEnv(t)
	if _, rpcErr, status := disabled.call(nil, "audit_events", nil); rpcErr == nil || status != http.StatusServiceUnavailable {
		t.Fatalf("expected audit disabled, got %+v (%d)", rpcErr, status)
	}

	store, err := audit.Open(audit.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	env := newTestEnvWith(t, envOptions{audit: store})
	id := env.listAsset("10", "5")
	env.mustCall(&seller, "escrow_cancelSale", map[string]string{"assetId": id}, nil)

	var records []AuditEventJSON
	env.mustCall(nil, "audit_events", map[string]string{"assetId": id}, &records)
	if len(records) == 0 {
		t.Fatalf("expected audit records")
	}
	var settlements []AuditSettlementJSON
	env.mustCall(nil, "audit_settlements", nil, &settlements)
	if len(settlements) != 1 || settlements[0].AssetID != id || settlements[0].Outcome != "cancelled" {
		t.Fatalf("unexpected settlements %+v", settlements)
	}
}

func TestClientSourceHonoursForwardedForOnlyFromTrustedProxies(t *testing.T) {
	limiter, err := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, TrustedProxies: []string{"10.0.0.0/8", "192.0.2.7"}})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	cases := []struct {
		remote    string
		forwarded string
		want      string
	}{
		{remote: "203.0.113.9:4000", forwarded: "198.51.100.1", want: "203.0.113.9"},
		{remote: "10.1.2.3:4000", forwarded: "198.51.100.1, 10.1.2.3", want: "198.51.100.1"},
		{remote: "192.0.2.7:4000", forwarded: "198.51.100.2", want: "198.51.100.2"},
		{remote: "192.0.2.8:4000", forwarded: "198.51.100.2", want: "192.0.2.8"},
		{remote: "10.1.2.3:4000", want: "10.1.2.3"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := limiter.clientSource(req); got != tc.want {
			t.Fatalf("remote %s forwarded %q: got %s, want %s", tc.remote, tc.forwarded, got, tc.want)
		}
	}

	if _, err := newRateLimiter(RateLimitConfig{TrustedProxies: []string{"not-an-ip"}}); err == nil {
		t.Fatalf("expected invalid proxy to be rejected")
	}
}

func TestFailedTokenAttemptsAreRateLimited(t *testing.T) {
	env := newTestEnvWith(t, envOptions{rateLimit: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}})
	post := func(forwarded string) int {
		t.Helper()
		body := `{"jsonrpc":"2.0","id":1,"method":"bank_transfer","params":[{"to":"` + stranger.String() + `","amount":"1"}]}`
		req, err := http.NewRequest(http.MethodPost, env.http.URL, strings.NewReader(body))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer not-a-token")
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		resp, err := env.http.Client().Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if status := post(""); status != http.StatusUnauthorized {
		t.Fatalf("first bad token: status %d, want 401", status)
	}
	if status := post("198.51.100.50"); status != http.StatusTooManyRequests {
		t.Fatalf("repeated bad token: status %d, want 429", status)
	}
}
