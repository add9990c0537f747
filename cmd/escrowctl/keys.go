package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"p2pescrow/cmd/internal/passphrase"
	"p2pescrow/crypto"
	"p2pescrow/services/escrowd/auth"
)

// ctlStdin is the passphrase input for --passphrase-stdin.
var ctlStdin io.Reader = os.Stdin

func passphraseSource(piped bool) *passphrase.Source {
	opts := []passphrase.Option{passphrase.WithInput(ctlStdin)}
	if piped {
		opts = append(opts, passphrase.AllowPiped())
	}
	return passphrase.NewSource(passphraseEnv, opts...)
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "keystore file to write")
	light := fs.Bool("light", false, "use light scrypt parameters (development only)")
	piped := fs.Bool("passphrase-stdin", false, "read the passphrase from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(stderr, fmt.Errorf("--out is required"))
	}
	if _, err := os.Stat(*out); err == nil {
		return printError(stderr, fmt.Errorf("%s already exists", *out))
	}
	pass, err := passphraseSource(*piped).Get()
	if err != nil {
		return printError(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	strength := crypto.StandardKeystore
	if *light {
		strength = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystore(*out, key, pass, strength); err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func loadAddress(path string, piped bool) (string, error) {
	pass, err := passphraseSource(piped).Get()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return "", err
	}
	return key.PubKey().Address().String(), nil
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("keystore", "", "keystore file")
	piped := fs.Bool("passphrase-stdin", false, "read the passphrase from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*path) == "" {
		return printError(stderr, fmt.Errorf("--keystore is required"))
	}
	addr, err := loadAddress(*path, *piped)
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, addr)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "caller address")
	keystorePath := fs.String("keystore", "", "derive the subject from a keystore")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secretEnv := fs.String("secret-env", "ESCROWD_JWT_SECRET", "variable holding the signing secret")
	piped := fs.Bool("passphrase-stdin", false, "read the keystore passphrase from the first line of stdin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	sub := strings.TrimSpace(*subject)
	if sub == "" && strings.TrimSpace(*keystorePath) != "" {
		addr, err := loadAddress(*keystorePath, *piped)
		if err != nil {
			return printError(stderr, err)
		}
		sub = addr
	}
	if sub == "" {
		return printError(stderr, fmt.Errorf("--subject or --keystore is required"))
	}
	caller, err := crypto.ParseAddress(sub)
	if err != nil {
		return printError(stderr, err)
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return printError(stderr, fmt.Errorf("%s is not set", *secretEnv))
	}
	token, err := auth.Sign([]byte(secret), caller, *ttl, ctlNow())
	if err != nil {
		return printError(stderr, err)
	}
	fmt.Fprintln(stdout, token)
	return 0
}
