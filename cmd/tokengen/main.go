// Command tokengen mints dashboard bearer tokens from the JWT_* environment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"voice-orchestrator/internal/auth"
	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/rbac"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	userID := fs.String("user", "", "user id to embed in the token")
	role := fs.String("role", rbac.RoleViewer, "role: viewer, operator or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	if !rbac.Known(*role) {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), *userID, *role)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
