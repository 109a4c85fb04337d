// Command stafftoken mints a staff bearer token for local runs and smoke tests.
//
//	ORDERDESK_STAFF_JWT_SECRET=... stafftoken -sub staff7 -ttl 8h
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"orderdesk/cmd/internal/api"

	"github.com/caarlos0/env/v11"
)

type config struct {
	Secret   string `env:"ORDERDESK_STAFF_JWT_SECRET,required"`
	Issuer   string `env:"ORDERDESK_STAFF_JWT_ISSUER" envDefault:"orderdesk"`
	Audience string `env:"ORDERDESK_STAFF_JWT_AUDIENCE" envDefault:"orderdesk-staff"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "stafftoken:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stafftoken", flag.ContinueOnError)
	sub := fs.String("sub", "", "staff id placed in the token subject")
	ttl := fs.Duration("ttl", 8*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*sub) == "" {
		return errors.New("-sub is required")
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return err
	}
	auth, err := api.NewStaffAuth(api.StaffAuthConfig{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	})
	if err != nil {
		return err
	}

	tok, exp, err := auth.Mint(strings.TrimSpace(*sub), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.UTC().Format(time.RFC3339))
	return nil
}
