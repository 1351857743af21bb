package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

func runRegistryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
	switch args[0] {
	case "mint":
		fs := newFlagSet("registry mint", stderr, registryUsage)
		var uri string
		fs.StringVar(&uri, "uri", "", "metadata URI of the deed")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if strings.TrimSpace(uri) == "" {
			return printError(stderr, "--uri is required")
		}
		return invoke(stdout, stderr, "registry_mint", map[string]string{"uri": strings.TrimSpace(uri)}, true)
	case "approve":
		fs := newFlagSet("registry approve", stderr, registryUsage)
		var assetID, spender string
		fs.StringVar(&assetID, "asset", "", "deed identifier")
		fs.StringVar(&spender, "spender", "", "address allowed to move the deed")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAssetID(assetID); err != nil {
			return printError(stderr, err.Error())
		}
		if err := validateAddress("--spender", spender); err != nil {
			return printError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "registry_approve", map[string]string{"assetId": strings.TrimSpace(assetID), "spender": strings.TrimSpace(spender)}, true)
	case "operator":
		fs := newFlagSet("registry operator", stderr, registryUsage)
		var operator, approved string
		fs.StringVar(&operator, "operator", "", "address granted control of all caller deeds")
		fs.StringVar(&approved, "approved", "true", "grant (true) or revoke (false)")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAddress("--operator", operator); err != nil {
			return printError(stderr, err.Error())
		}
		grant, err := strconv.ParseBool(strings.TrimSpace(approved))
		if err != nil {
			return printError(stderr, "--approved must be true or false")
		}
		return invoke(stdout, stderr, "registry_setOperator", map[string]interface{}{"operator": strings.TrimSpace(operator), "approved": grant}, true)
	case "transfer":
		fs := newFlagSet("registry transfer", stderr, registryUsage)
		var assetID, from, to string
		fs.StringVar(&assetID, "asset", "", "deed identifier")
		fs.StringVar(&from, "from", "", "current owner")
		fs.StringVar(&to, "to", "", "recipient")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAssetID(assetID); err != nil {
			return printError(stderr, err.Error())
		}
		if err := validateAddress("--from", from); err != nil {
			return printError(stderr, err.Error())
		}
		if err := validateAddress("--to", to); err != nil {
			return printError(stderr, err.Error())
		}
		params := map[string]string{"assetId": strings.TrimSpace(assetID), "from": strings.TrimSpace(from), "to": strings.TrimSpace(to)}
		return invoke(stdout, stderr, "registry_transfer", params, true)
	case "owner":
		return runEscrowAsset("registry_ownerOf", "registry owner", false, args[1:], stdout, stderr)
	case "assets":
		fs := newFlagSet("registry assets", stderr, registryUsage)
		var owner string
		fs.StringVar(&owner, "owner", "", "owner bech32 address")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAddress("--owner", owner); err != nil {
			return printError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "registry_assets", map[string]string{"owner": strings.TrimSpace(owner)}, false)
	default:
		fmt.Fprintf(stderr, "Unknown registry subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
}

func registryUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli registry <command> [flags]

Commands:
  mint      Mint a deed to the caller
  approve   Approve an address to move one deed
  operator  Grant or revoke an operator over all caller deeds
  transfer  Move a deed
  owner     Show a deed and its owner
  assets    List the deeds held by an address
`)
}

func runBankCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, bankUsage())
		return 1
	}
	switch args[0] {
	case "balance":
		fs := newFlagSet("bank balance", stderr, bankUsage)
		var address string
		fs.StringVar(&address, "address", "", "account bech32 address")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAddress("--address", address); err != nil {
			return printError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "bank_balance", map[string]string{"address": strings.TrimSpace(address)}, false)
	case "transfer":
		fs := newFlagSet("bank transfer", stderr, bankUsage)
		var to, amount string
		fs.StringVar(&to, "to", "", "recipient bech32 address")
		fs.StringVar(&amount, "amount", "", "amount to send (supports 10e18 shorthand)")
		if !parseFlags(fs, args[1:], stderr) {
			return 1
		}
		if err := validateAddress("--to", to); err != nil {
			return printError(stderr, err.Error())
		}
		normalized, err := normalizeAmount("--amount", amount, false)
		if err != nil {
			return printError(stderr, err.Error())
		}
		return invoke(stdout, stderr, "bank_transfer", map[string]string{"to": strings.TrimSpace(to), "amount": normalized}, true)
	default:
		fmt.Fprintf(stderr, "Unknown bank subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, bankUsage())
		return 1
	}
}

func bankUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli bank <command> [flags]

Commands:
  balance   Show an account balance
  transfer  Send funds from the caller
`)
}
