package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"deedescrow/cmd/internal/passphrase"
	"deedescrow/crypto"
	"deedescrow/rpc"
)

var (
	secretSource     = func(envVar string) secretGetter { return passphrase.NewSource(envVar, "JWT signing secret") }
	passphraseSource = func(envVar string) secretGetter { return passphrase.NewSource(envVar, "keystore passphrase") }
)

type secretGetter interface {
	Get() (string, error)
}

// runTokenCommand mints an HS256 bearer token whose subject is an address.
func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr, tokenUsage)
	var subject, secretEnv, issuer, audience string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "", "caller bech32 address")
	fs.StringVar(&secretEnv, "secret-env", "ESCROW_JWT_SECRET", "environment variable holding the signing secret")
	fs.StringVar(&issuer, "issuer", "deedescrow", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := validateAddress("--subject", subject); err != nil {
		return printError(stderr, err.Error())
	}
	if ttl <= 0 {
		return printError(stderr, "--ttl must be positive")
	}
	secret, err := secretSource(secretEnv).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr, _ := crypto.DecodeAddress(strings.TrimSpace(subject))
	token, err := rpc.IssueToken(secret, addr, issuer, audience, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli token --subject ADDRESS [--ttl 1h] [--issuer deedescrow] [--audience AUD] [--secret-env ESCROW_JWT_SECRET]

The signing secret is read from --secret-env or prompted on the terminal.
`)
}

// runKeygenCommand writes a fresh key into an encrypted keystore and prints
// its address.
func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr, keygenUsage)
	var out, passEnv string
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.StringVar(&passEnv, "passphrase-env", "ESCROW_KEYSTORE_PASSPHRASE", "environment variable holding the keystore passphrase")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return printError(stderr, "--out is required")
	}
	if _, err := os.Stat(out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", out))
	}
	pass, err := passphraseSource(passEnv).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func keygenUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli keygen --out FILE [--passphrase-env ESCROW_KEYSTORE_PASSPHRASE]
`)
}
