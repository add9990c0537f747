package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"p2pescrow/services/escrowd/client"
)

const (
	defaultURL    = "http://localhost:8088"
	passphraseEnv = "ESCROWCTL_PASSPHRASE"
)

type globals struct {
	url    string
	token  string
	caller string
}

var (
	ctlNow = time.Now
	// newClient is swapped in tests.
	newClient = func(g globals) (*client.Client, error) {
		var opts []client.Option
		if g.token != "" {
			opts = append(opts, client.WithToken(g.token))
		}
		if g.caller != "" {
			opts = append(opts, client.WithCaller(g.caller))
		}
		return client.New(g.url, opts...)
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globals
	fs.StringVar(&g.url, "url", envOr("ESCROWCTL_URL", defaultURL), "escrowd base URL")
	fs.StringVar(&g.token, "token", os.Getenv("ESCROWCTL_TOKEN"), "bearer token")
	fs.StringVar(&g.caller, "caller", os.Getenv("ESCROWCTL_CALLER"), "caller address for servers without a token secret")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch rest[0] {
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	case "address":
		return runAddress(rest[1:], stdout, stderr)
	case "token":
		return runToken(rest[1:], stdout, stderr)
	}

	cmd, ok := orderCommands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	c, err := newClient(g)
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	out, err := cmd(ctx, c, rest[1:], stderr)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Order != nil {
			_ = printJSON(stdout, apiErr.Order)
		}
		return printError(stderr, err)
	}
	if out != nil {
		if err := printJSON(stdout, out); err != nil {
			return printError(stderr, err)
		}
	}
	return 0
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrowctl [--url URL] [--token JWT | --caller ADDR] <command> [args]

Keys:
  keygen --out FILE [--light]        generate an owner or participant keystore
  address --keystore FILE            print the address held in a keystore
  token (--subject ADDR | --keystore FILE) [--ttl 24h] [--secret-env VAR]

Orders:
  create --type sell|buy [--value N] [--idempotency-key K]
  accept ID | payment-sent ID | complete ID | cancel ID | dispute ID
  accept-buy ID --value N
  resolve ID --favor buyer|seller
  retry ID                           retry a failed payout (owner)
  get ID
  list [--status S] [--type T] [--buyer A] [--seller A] [--limit N] [--offset N]
  export --out FILE [list filters]

Escrow:
  status | pause | unpause
  balance ADDR | credit ADDR AMOUNT
  events [--after SEQ] [--limit N]`)
}
