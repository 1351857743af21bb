package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"deedescrow/crypto"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "deposit":
		return runEscrowFunding("escrow_depositEarnest", "escrow deposit", args[1:], stdout, stderr)
	case "lend":
		return runEscrowFunding("escrow_lend", "escrow lend", args[1:], stdout, stderr)
	case "inspect":
		return runEscrowInspect(args[1:], stdout, stderr)
	case "approve":
		return runEscrowAsset("escrow_approveSale", "escrow approve", true, args[1:], stdout, stderr)
	case "finalize":
		return runEscrowAsset("escrow_finalizeSale", "escrow finalize", true, args[1:], stdout, stderr)
	case "cancel":
		return runEscrowAsset("escrow_cancelSale", "escrow cancel", true, args[1:], stdout, stderr)
	case "get":
		return runEscrowAsset("escrow_getSale", "escrow get", false, args[1:], stdout, stderr)
	case "approval":
		return runEscrowApproval(args[1:], stdout, stderr)
	case "settlement":
		return runEscrowSettlement(args[1:], stdout, stderr)
	case "balance":
		return runEscrowNoArgs("escrow_getBalance", "escrow balance", args[1:], stdout, stderr)
	case "roles":
		return runEscrowNoArgs("escrow_roles", "escrow roles", args[1:], stdout, stderr)
	case "listings":
		return runEscrowNoArgs("escrow_listings", "escrow listings", args[1:], stdout, stderr)
	case "events":
		return runEscrowEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow list", stderr, escrowUsage)
	var assetID, buyer, price, earnest string
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.StringVar(&price, "price", "", "purchase price (supports 10e18 shorthand)")
	fs.StringVar(&earnest, "earnest", "", "required earnest (supports 10e18 shorthand)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	if err := validateAddress("--buyer", buyer); err != nil {
		return printError(stderr, err.Error())
	}
	normalizedPrice, err := normalizeAmount("--price", price, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalizedEarnest, err := normalizeAmount("--earnest", earnest, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]string{
		"assetId":         strings.TrimSpace(assetID),
		"buyer":           strings.TrimSpace(buyer),
		"purchasePrice":   normalizedPrice,
		"requiredEarnest": normalizedEarnest,
	}
	return invoke(stdout, stderr, "escrow_list", params, true)
}

func runEscrowFunding(method, name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, escrowUsage)
	var assetID, amount string
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	fs.StringVar(&amount, "amount", "", "amount to move into custody (supports 10e18 shorthand)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount("--amount", amount, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, method, map[string]string{"assetId": strings.TrimSpace(assetID), "amount": normalized}, true)
}

func runEscrowInspect(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow inspect", stderr, escrowUsage)
	var assetID, result string
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	fs.StringVar(&result, "result", "", "inspection verdict: pass or fail")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	var passed bool
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "pass", "passed", "true":
		passed = true
	case "fail", "failed", "false":
	case "":
		return printError(stderr, "--result is required")
	default:
		return printError(stderr, "--result must be pass or fail")
	}
	return invoke(stdout, stderr, "escrow_updateInspection", map[string]interface{}{"assetId": strings.TrimSpace(assetID), "passed": passed}, true)
}

func runEscrowAsset(method, name string, requireAuth bool, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, escrowUsage)
	var assetID string
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, method, map[string]string{"assetId": strings.TrimSpace(assetID)}, requireAuth)
}

func runEscrowApproval(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow approval", stderr, escrowUsage)
	var assetID, address string
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	fs.StringVar(&address, "address", "", "participant bech32 address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	if err := validateAddress("--address", address); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke(stdout, stderr, "escrow_getApproval", map[string]string{"assetId": strings.TrimSpace(assetID), "address": strings.TrimSpace(address)}, false)
}

func runEscrowSettlement(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow settlement", stderr, escrowUsage)
	var assetID string
	var round uint64
	fs.StringVar(&assetID, "asset", "", "deed identifier")
	fs.Uint64Var(&round, "round", 1, "listing round")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAssetID(assetID); err != nil {
		return printError(stderr, err.Error())
	}
	if round == 0 {
		return printError(stderr, "--round must be > 0")
	}
	return invoke(stdout, stderr, "escrow_getSettlement", map[string]interface{}{"assetId": strings.TrimSpace(assetID), "round": round}, false)
}

func runEscrowEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow events", stderr, escrowUsage)
	var cursor string
	var limit int
	fs.StringVar(&cursor, "cursor", "", "return events after this cursor")
	fs.IntVar(&limit, "limit", 0, "maximum number of events")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	return invoke(stdout, stderr, "escrow_events", map[string]interface{}{"cursor": strings.TrimSpace(cursor), "limit": limit}, false)
}

func runEscrowNoArgs(method, name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr, escrowUsage)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return invoke(stdout, stderr, method, nil, false)
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli escrow <command> [flags]

Commands:
  list        Open a sale of a deed to a buyer (seller)
  deposit     Deposit earnest money (buyer)
  lend        Contribute loan funds (lender)
  inspect     Record the inspection verdict (inspector)
  approve     Sign off on the sale (buyer, seller or lender)
  finalize    Settle the sale once every condition holds
  cancel      Cancel the sale and return funds (buyer or seller)
  get         Show a listing and its bookkeeping
  approval    Show whether a participant approved
  settlement  Show the receipt of a settled round
  balance     Show the custody balance
  roles       Show the fixed participants
  listings    Show every listed deed
  events      Show recent escrow events
`)
}

func newFlagSet(name string, stderr io.Writer, usageFn func() string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageFn())
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func validateAssetID(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("--asset is required")
	}
	if _, err := strconv.ParseUint(trimmed, 10, 64); err != nil {
		return fmt.Errorf("--asset must be a non-negative integer")
	}
	return nil
}

func validateAddress(flagName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s is required", flagName)
	}
	if _, err := crypto.DecodeAddress(trimmed); err != nil {
		return fmt.Errorf("%s: %v", flagName, err)
	}
	return nil
}

// normalizeAmount expands shorthand like 1.5e3 into an integer string.
func normalizeAmount(flagName, value string, allowZero bool) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expPart := strings.TrimSpace(trimmed[idx+1:])
		if expPart == "" {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		expValue, err := strconv.ParseInt(expPart, 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must not be negative", flagName)
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid amount format in %s", flagName)
	}
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	digits := integerPart + fractionalPart
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format in %s", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		if allowZero {
			return "0", nil
		}
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	fracLen := len(fractionalPart)
	for fracLen > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	totalExponent := exponent - fracLen
	if totalExponent < 0 {
		return "", fmt.Errorf("%s must be an integer", flagName)
	}
	if totalExponent > 0 {
		digits += strings.Repeat("0", totalExponent)
	}
	return digits, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
