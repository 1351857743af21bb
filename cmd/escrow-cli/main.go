package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultRPCURL = "http://127.0.0.1:8080"

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("ESCROW_RPC_TOKEN")
	rpcClient    = &http.Client{Timeout: 30 * time.Second}
	rpcCall      = callRPC
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "escrow":
		return runEscrowCommand(args[1:], stdout, stderr)
	case "registry":
		return runRegistryCommand(args[1:], stdout, stderr)
	case "bank":
		return runBankCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Commands:
  escrow    Drive and inspect deed sales
  registry  Mint, approve and transfer deeds
  bank      Query balances and move funds
  token     Mint a bearer token for an address
  keygen    Generate a key into an encrypted keystore

Environment:
  ESCROW_RPC_URL    JSON-RPC endpoint (default ` + defaultRPCURL + `)
  ESCROW_RPC_TOKEN  bearer token for state-changing calls
`)
}

func defaultRPCEndpoint() string {
	if value := strings.TrimSpace(os.Getenv("ESCROW_RPC_URL")); value != "" {
		return value
	}
	return defaultRPCURL
}

// applyGlobalFlags strips --rpc and --token from the front of args.
func applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		var name, value string
		switch {
		case strings.HasPrefix(arg, "--rpc="), strings.HasPrefix(arg, "--token="):
			parts := strings.SplitN(arg, "=", 2)
			name, value = parts[0], parts[1]
			args = args[1:]
		case arg == "--rpc" || arg == "--token":
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			name, value = arg, args[1]
			args = args[2:]
		default:
			return args, nil
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("%s requires a value", name)
		}
		if name == "--rpc" {
			rpcEndpoint = value
		} else {
			rpcAuthToken = value
		}
	}
	return args, nil
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if strings.TrimSpace(rpcAuthToken) == "" {
			return nil, fmt.Errorf("this call requires a bearer token; set ESCROW_RPC_TOKEN or pass --token")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := rpcClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

// invoke performs one call and prints the result. It returns the exit code.
func invoke(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 && string(rpcErr.Data) != "null" {
			fmt.Fprintf(stderr, "  %s\n", rpcErr.Data)
		}
		return 1
	}
	writeRPCResult(stdout, result)
	return 0
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err == nil {
		result = pretty.Bytes()
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
