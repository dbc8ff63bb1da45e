// Command admintoken prints a signed admin token for relays running with
// ROLE_MODE=token. Open the map page with ?token=<value> to connect as admin.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/sofarelay/internal/role"
	"github.com/Tyrowin/sofarelay/internal/server"
)

func main() {
	flags := pflag.NewFlagSet("admintoken", pflag.ExitOnError)
	envFile := flags.String("env-file", ".env", "optional file of KEY=VALUE settings")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = flags.Parse(os.Args[1:])

	if err := server.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := server.NewConfigFromEnv()
	cfg.RoleMode = server.RoleModeToken
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token, err := role.IssueToken([]byte(cfg.TokenSecret), role.Admin, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
