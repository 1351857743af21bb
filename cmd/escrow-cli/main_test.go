package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"deedescrow/crypto"
)

type recordedCall struct {
	method      string
	params      map[string]interface{}
	requireAuth bool
}

func stubRPC(t *testing.T, result string, rpcErr *rpcError) *[]recordedCall {
	t.Helper()
	var calls []recordedCall
	original := rpcCall
	rpcCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		call := recordedCall{method: method, requireAuth: requireAuth}
		if params != nil {
			raw, err := json.Marshal(params)
			if err != nil {
				t.Fatalf("marshal params: %v", err)
			}
			if err := json.Unmarshal(raw, &call.params); err != nil {
				t.Fatalf("unmarshal params: %v", err)
			}
		}
		calls = append(calls, call)
		return json.RawMessage(result), rpcErr, nil
	}
	t.Cleanup(func() { rpcCall = original })
	return &calls
}

func testAddress(fill byte) string {
	var addr crypto.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr.String()
}

func TestEscrowCommandsBuildRequests(t *testing.T) {
	buyer := testAddress(0x44)
	cases := []struct {
		name   string
		args   []string
		method string
		auth   bool
		params map[string]interface{}
	}{
		{
			name:   "list",
			args:   []string{"escrow", "list", "--asset", "1", "--buyer", buyer, "--price", "1e3", "--earnest", "0"},
			method: "escrow_list",
			auth:   true,
			params: map[string]interface{}{"assetId": "1", "buyer": buyer, "purchasePrice": "1000", "requiredEarnest": "0"},
		},
		{
			name:   "deposit",
			args:   []string{"escrow", "deposit", "--asset", "2", "--amount", "1.5e2"},
			method: "escrow_depositEarnest",
			auth:   true,
			params: map[string]interface{}{"assetId": "2", "amount": "150"},
		},
		{
			name:   "lend",
			args:   []string{"escrow", "lend", "--asset", "2", "--amount", "5"},
			method: "escrow_lend",
			auth:   true,
			params: map[string]interface{}{"assetId": "2", "amount": "5"},
		},
		{
			name:   "inspect",
			args:   []string{"escrow", "inspect", "--asset", "3", "--result", "fail"},
			method: "escrow_updateInspection",
			auth:   true,
			params: map[string]interface{}{"assetId": "3", "passed": false},
		},
		{
			name:   "finalize",
			args:   []string{"escrow", "finalize", "--asset", "3"},
			method: "escrow_finalizeSale",
			auth:   true,
			params: map[string]interface{}{"assetId": "3"},
		},
		{
			name:   "get",
			args:   []string{"escrow", "get", "--asset", "3"},
			method: "escrow_getSale",
			params: map[string]interface{}{"assetId": "3"},
		},
		{
			name:   "settlement",
			args:   []string{"escrow", "settlement", "--asset", "3", "--round", "2"},
			method: "escrow_getSettlement",
			params: map[string]interface{}{"assetId": "3", "round": float64(2)},
		},
		{
			name:   "roles",
			args:   []string{"escrow", "roles"},
			method: "escrow_roles",
		},
		{
			name:   "registry operator",
			args:   []string{"registry", "operator", "--operator", buyer, "--approved", "false"},
			method: "registry_setOperator",
			auth:   true,
			params: map[string]interface{}{"operator": buyer, "approved": false},
		},
		{
			name:   "bank transfer",
			args:   []string{"bank", "transfer", "--to", buyer, "--amount", "7"},
			method: "bank_transfer",
			auth:   true,
			params: map[string]interface{}{"to": buyer, "amount": "7"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := stubRPC(t, `{"ok":true}`, nil)
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 0 {
				t.Fatalf("exit %d: %s", code, stderr.String())
			}
			if len(*calls) != 1 {
				t.Fatalf("expected one call, got %d", len(*calls))
			}
			got := (*calls)[0]
			if got.method != tc.method || got.requireAuth != tc.auth {
				t.Fatalf("unexpected call %+v", got)
			}
			for key, want := range tc.params {
				if got.params[key] != want {
					t.Fatalf("param %s = %v, want %v", key, got.params[key], want)
				}
			}
			if !strings.Contains(stdout.String(), `"ok": true`) {
				t.Fatalf("unexpected output %q", stdout.String())
			}
		})
	}
}

func TestEscrowCommandArgValidation(t *testing.T) {
	original := rpcCall
	rpcCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	defer func() { rpcCall = original }()

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no command", nil, "Usage:"},
		{"unknown", []string{"frobnicate"}, "Unknown command"},
		{"escrow usage", []string{"escrow"}, "escrow-cli escrow"},
		{"missing asset", []string{"escrow", "get"}, "--asset is required"},
		{"bad asset", []string{"escrow", "get", "--asset", "x"}, "--asset must be"},
		{"bad buyer", []string{"escrow", "list", "--asset", "1", "--buyer", "nope", "--price", "1", "--earnest", "1"}, "--buyer"},
		{"fractional amount", []string{"escrow", "deposit", "--asset", "1", "--amount", "1.5"}, "must be an integer"},
		{"zero deposit", []string{"escrow", "deposit", "--asset", "1", "--amount", "0"}, "must be positive"},
		{"negative amount", []string{"bank", "transfer", "--to", testAddress(1), "--amount", "-3"}, "must not be negative"},
		{"bad verdict", []string{"escrow", "inspect", "--asset", "1", "--result", "maybe"}, "pass or fail"},
		{"zero round", []string{"escrow", "settlement", "--asset", "1", "--round", "0"}, "--round must be > 0"},
		{"positional", []string{"escrow", "roles", "extra"}, "unexpected positional"},
		{"missing uri", []string{"registry", "mint"}, "--uri is required"},
		{"dangling rpc flag", []string{"--rpc"}, "--rpc requires a value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr.String(), tc.wantErr) {
				t.Fatalf("stderr %q missing %q", stderr.String(), tc.wantErr)
			}
		})
	}
}

func TestRPCErrorsAreReported(t *testing.T) {
	stubRPC(t, "", &rpcError{Code: -32023, Message: "unauthorized", Data: json.RawMessage(`"escrow: caller not authorized"`)})
	var stdout, stderr bytes.Buffer
	if code := run([]string{"escrow", "approve", "--asset", "1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1")
	}
	if !strings.Contains(stderr.String(), "RPC error -32023: unauthorized") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	original := rpcCall
	rpcCall = func(string, interface{}, bool) (json.RawMessage, *rpcError, error) {
		return nil, nil, errors.New("connection refused")
	}
	defer func() { rpcCall = original }()
	stderr.Reset()
	if code := run([]string{"escrow", "roles"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1")
	}
	if !strings.Contains(stderr.String(), "connection refused") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestCallRPCSendsBearerToken(t *testing.T) {
	var gotAuth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer srv.Close()

	origEndpoint, origToken := rpcEndpoint, rpcAuthToken
	defer func() { rpcEndpoint, rpcAuthToken = origEndpoint, origToken }()

	var stdout, stderr bytes.Buffer
	code := run([]string{"--rpc", srv.URL, "--token=abc", "escrow", "cancel", "--asset", "4"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if gotAuth != "Bearer abc" || gotMethod != "escrow_cancelSale" {
		t.Fatalf("unexpected request auth=%q method=%q", gotAuth, gotMethod)
	}

	rpcAuthToken = ""
	if _, _, err := callRPC("escrow_cancelSale", nil, true); err == nil {
		t.Fatalf("expected missing token error")
	}
}

type fixedSecret string

func (f fixedSecret) Get() (string, error) { return string(f), nil }

func TestTokenCommandSignsSubject(t *testing.T) {
	original := secretSource
	secretSource = func(string) secretGetter { return fixedSecret("cli-secret") }
	defer func() { secretSource = original }()

	subject := testAddress(0x22)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"token", "--subject", subject, "--ttl", "5m", "--audience", "escrowd"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(stdout.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != subject || claims.Issuer != "deedescrow" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.After(time.Now().Add(6*time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestKeygenWritesKeystore(t *testing.T) {
	original := passphraseSource
	passphraseSource = func(string) secretGetter { return fixedSecret("keystore-pass") }
	defer func() { passphraseSource = original }()

	out := filepath.Join(t.TempDir(), "keys", "buyer.json")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen", "--out", out}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	key, err := crypto.LoadFromKeystore(out, "keystore-pass")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != key.PubKey().Address().String() {
		t.Fatalf("printed address %s does not match keystore", got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("stat: %v", err)
	}
	stderr.Reset()
	if code := run([]string{"keygen", "--out", out}, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %q", stderr.String())
	}
}
