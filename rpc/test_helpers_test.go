package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deedescrow/core"
	"deedescrow/core/genesis"
	"deedescrow/crypto"
	"deedescrow/native/escrow"
	"deedescrow/storage"
	"deedescrow/storage/audit"
)

const testJWTSecret = "rpc-test-secret"

func testAddress(fill byte) crypto.Address {
	var addr crypto.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	seller    = testAddress(0x11)
	inspector = testAddress(0x22)
	lender    = testAddress(0x33)
	buyer     = testAddress(0x44)
	stranger  = testAddress(0x55)
)

type testEnv struct {
	t      *testing.T
	node   *core.Node
	server *Server
	http   *httptest.Server
	nextID int
}

type envOptions struct {
	rateLimit RateLimitConfig
	audit     *audit.Store
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, envOptions{})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	var nodeOpts []core.Option
	if opts.audit != nil {
		nodeOpts = append(nodeOpts, core.WithEventSinks(opts.audit))
	}
	node, err := core.NewNode(storage.NewMemDB(), escrow.Roles{Seller: seller, Inspector: inspector, Lender: lender}, nodeOpts...)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf(`
genesisTime: "2024-01-01T00:00:00Z"
alloc:
  %s: "100"
  %s: "100"
  %s: "100"
`, buyer, lender, stranger)))
	if err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	if _, err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	srv, err := NewServer(node, opts.audit, ServerConfig{
		Auth:      AuthConfig{HMACSecret: testJWTSecret, Issuer: "rpc-tests", Audience: "unit-tests"},
		RateLimit: opts.rateLimit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		node.Close()
	})
	return &testEnv{t: t, node: node, server: srv, http: ts}
}

func (e *testEnv) token(caller crypto.Address) string {
	e.t.Helper()
	token, err := IssueToken(testJWTSecret, caller, "rpc-tests", "unit-tests", time.Minute)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

// call posts a JSON-RPC request. A nil caller sends no bearer token.
func (e *testEnv) call(caller *crypto.Address, method string, params interface{}) (json.RawMessage, *RPCError, int) {
	e.t.Helper()
	e.nextID++
	req := map[string]interface{}{"jsonrpc": jsonRPCVersion, "id": e.nextID, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		e.t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, e.http.URL, bytes.NewReader(body))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if caller != nil {
		httpReq.Header.Set("Authorization", "Bearer "+e.token(*caller))
	}
	resp, err := e.http.Client().Do(httpReq)
	if err != nil {
		e.t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		e.t.Fatalf("decode response: %v", err)
	}
	return decoded.Result, decoded.Error, resp.StatusCode
}

// mustCall fails the test on any RPC error and decodes the result into out.
func (e *testEnv) mustCall(caller *crypto.Address, method string, params interface{}, out interface{}) {
	e.t.Helper()
	result, rpcErr, status := e.call(caller, method, params)
	if rpcErr != nil {
		e.t.Fatalf("%s: unexpected error %d (%d): %s %v", method, rpcErr.Code, status, rpcErr.Message, rpcErr.Data)
	}
	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			e.t.Fatalf("%s: decode result: %v", method, err)
		}
	}
}

// listAsset mints a deed for the seller, approves custody and lists it.
func (e *testEnv) listAsset(price, earnest string) string {
	e.t.Helper()
	var roles RolesJSON
	e.mustCall(nil, "escrow_roles", nil, &roles)
	var asset AssetJSON
	e.mustCall(&seller, "registry_mint", map[string]string{"uri": "ipfs://deed"}, &asset)
	e.mustCall(&seller, "registry_approve", map[string]string{"assetId": asset.ID, "spender": roles.Custody}, nil)
	e.mustCall(&seller, "escrow_list", map[string]string{
		"assetId":         asset.ID,
		"buyer":           buyer.String(),
		"purchasePrice":   price,
		"requiredEarnest": earnest,
	}, nil)
	return asset.ID
}
