package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"p2pescrow/services/escrowd/client"
)

type orderCommand func(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error)

var orderCommands = map[string]orderCommand{
	"create":       runCreate,
	"accept":       transition("accept"),
	"payment-sent": transition("payment-sent"),
	"complete":     transition("complete"),
	"cancel":       transition("cancel"),
	"dispute":      transition("dispute"),
	"retry":        transition("payouts/retry"),
	"accept-buy":   runAcceptBuy,
	"resolve":      runResolve,
	"get":          runGet,
	"list":         runList,
	"export":       runExport,
	"status": func(ctx context.Context, c *client.Client, _ []string, _ io.Writer) (interface{}, error) {
		return c.Status(ctx)
	},
	"pause": func(ctx context.Context, c *client.Client, _ []string, _ io.Writer) (interface{}, error) {
		return c.SetPaused(ctx, true)
	},
	"unpause": func(ctx context.Context, c *client.Client, _ []string, _ io.Writer) (interface{}, error) {
		return c.SetPaused(ctx, false)
	},
	"balance": runBalance,
	"credit":  runCredit,
	"events":  runEvents,
}

// splitID pulls the leading order id off args and parses the remaining flags.
func splitID(fs *flag.FlagSet, args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("order id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id %q", args[0])
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 0, err
	}
	if fs.NArg() > 0 {
		return 0, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return id, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func requestOpts(key string) []client.RequestOption {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return []client.RequestOption{client.WithIdempotencyKey(key)}
}

func runCreate(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("create", stderr)
	orderType := fs.String("type", "", "sell or buy")
	value := fs.String("value", "", "deposit for sell orders")
	key := fs.String("idempotency-key", "", "replay protection key")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*orderType) == "" {
		return nil, fmt.Errorf("--type is required")
	}
	return c.CreateOrder(ctx, *orderType, *value, requestOpts(*key)...)
}

func transition(action string) orderCommand {
	return func(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
		fs := newFlagSet(action, stderr)
		key := fs.String("idempotency-key", "", "replay protection key")
		id, err := splitID(fs, args)
		if err != nil {
			return nil, err
		}
		return c.Act(ctx, id, action, requestOpts(*key)...)
	}
}

func runAcceptBuy(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("accept-buy", stderr)
	value := fs.String("value", "", "amount to deposit")
	key := fs.String("idempotency-key", "", "replay protection key")
	id, err := splitID(fs, args)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(*value) == "" {
		return nil, fmt.Errorf("--value is required")
	}
	return c.AcceptBuyOrder(ctx, id, *value, requestOpts(*key)...)
}

func runResolve(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("resolve", stderr)
	favor := fs.String("favor", "", "buyer or seller")
	id, err := splitID(fs, args)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(*favor)) {
	case "buyer":
		return c.ResolveDispute(ctx, id, true)
	case "seller":
		return c.ResolveDispute(ctx, id, false)
	default:
		return nil, fmt.Errorf("--favor must be buyer or seller")
	}
}

func runGet(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	id, err := splitID(newFlagSet("get", stderr), args)
	if err != nil {
		return nil, err
	}
	return c.GetOrder(ctx, id)
}

func listFlags(fs *flag.FlagSet) *client.ListFilter {
	f := &client.ListFilter{}
	fs.StringVar(&f.Status, "status", "", "order status")
	fs.StringVar(&f.Type, "type", "", "order type")
	fs.StringVar(&f.Buyer, "buyer", "", "buyer address")
	fs.StringVar(&f.Seller, "seller", "", "seller address")
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	fs.IntVar(&f.Offset, "offset", 0, "page offset")
	return f
}

func runList(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("list", stderr)
	f := listFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return c.ListOrders(ctx, *f)
}

func runExport(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("export", stderr)
	f := listFlags(fs)
	out := fs.String("out", "", "parquet file to write")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*out) == "" {
		return nil, fmt.Errorf("--out is required")
	}
	file, err := os.Create(*out)
	if err != nil {
		return nil, err
	}
	n, err := c.Export(ctx, *f, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": *out, "bytes": n}, nil
}

func runBalance(ctx context.Context, c *client.Client, args []string, _ io.Writer) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: balance ADDR")
	}
	return c.Account(ctx, args[0])
}

func runCredit(ctx context.Context, c *client.Client, args []string, _ io.Writer) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("usage: credit ADDR AMOUNT")
	}
	return c.Credit(ctx, args[0], args[1])
}

func runEvents(ctx context.Context, c *client.Client, args []string, stderr io.Writer) (interface{}, error) {
	fs := newFlagSet("events", stderr)
	after := fs.Uint64("after", 0, "sequence to resume after")
	limit := fs.Int("limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return c.Events(ctx, *after, *limit)
}
