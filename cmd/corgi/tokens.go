package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/corgi-proxy/corgi/internal/config"
	"github.com/corgi-proxy/corgi/internal/identity"
	"github.com/corgi-proxy/corgi/internal/store"
	"github.com/corgi-proxy/corgi/internal/store/postgres"
)

// cmdTokens is the out-of-band identity-issuance boundary tool: the proxy's
// request path only ever reads token mappings via identity.TokenStore, it
// never writes one. Enrollment and revocation happen here, administratively.
func cmdTokens(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: corgi tokens <enroll|revoke|derive> [args]")
		os.Exit(1)
	}

	switch args[0] {
	case "enroll":
		cmdTokensEnroll(args[1:])
	case "revoke":
		cmdTokensRevoke(args[1:])
	case "derive":
		cmdTokensDerive(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown tokens command: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdTokensEnroll(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: corgi tokens enroll <instance> <opaque-token> <alias>")
		os.Exit(1)
	}
	instance, opaqueToken, alias := args[0], args[1], args[2]

	backend := openCLIBackend()
	defer backend.Close()

	err := backend.PutTokenMapping(&store.TokenMapping{
		Alias:       alias,
		Instance:    instance,
		OpaqueToken: opaqueToken,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error enrolling token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Enrolled token for instance %q -> alias %q\n", instance, alias)
}

func cmdTokensRevoke(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: corgi tokens revoke <instance> <opaque-token>")
		os.Exit(1)
	}
	instance, opaqueToken := args[0], args[1]

	backend := openCLIBackend()
	defer backend.Close()

	if err := backend.DeleteTokenMapping(instance, opaqueToken); err != nil {
		fmt.Fprintf(os.Stderr, "error revoking token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Revoked token mapping for instance %q\n", instance)
}

// cmdTokensDerive prints the deterministic alias corgi would assign to an
// upstream account, using the configured identity salt. Useful for
// cross-checking a manual enrollment against the deterministic alias
// scheme; nothing else in the process derives aliases, so this is purely
// diagnostic.
func cmdTokensDerive(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: corgi tokens derive <instance> <upstream-account-id>")
		os.Exit(1)
	}
	instance, accountID := args[0], args[1]

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	v := identity.New()
	salt, err := v.ResolveKeyRef(cfg.Identity.SaltRef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving identity salt: %v\n", err)
		os.Exit(1)
	}

	deriver, err := identity.NewDeriver(salt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(deriver.Derive(instance, accountID))
}

// openCLIBackend opens the configured store backend for a one-shot CLI
// operation, mirroring internal/daemon's backend selection.
func openCLIBackend() store.Backend {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	var backend store.Backend
	if strings.EqualFold(cfg.Store.Backend, "postgres") {
		backend, err = postgres.Open(cfg.Store.PostgresDSN)
	} else {
		backend, err = store.Open(cfg.Store.SQLitePath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	return backend
}
