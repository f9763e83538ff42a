package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"syscall"

	"github.com/corgi-proxy/corgi/internal/identity"
	"golang.org/x/term"
)

// cmdIdentity manages the OS-keychain-backed secrets corgi needs before it
// can start: the identity salt (config.Identity.SaltRef) and per-instance
// crawler bearer tokens (config.InstanceConfig.TokenRef). There is no
// "list" subcommand — the keychain does not support enumeration, only
// lookup by name.
func cmdIdentity(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: corgi identity <set-salt|set-instance-token|resolve|delete> [args]")
		os.Exit(1)
	}

	v := identity.New()

	switch args[0] {
	case "set-salt":
		secret := readMaskedSecret("Enter identity salt (leave blank to generate one): ")
		if secret == "" {
			secret = randomSalt()
			fmt.Println("Generated a random salt.")
		}
		if err := v.Set("salt", secret); err != nil {
			fmt.Fprintf(os.Stderr, "error storing salt: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Identity salt stored. Set identity.salt_ref = \"keyring://corgi/salt\" in your config.")

	case "set-instance-token":
		if len(args) < 2 {
			fmt.Println("Usage: corgi identity set-instance-token <instance>")
			os.Exit(1)
		}
		instance := args[1]
		name := "instance:" + instance
		secret := readMaskedSecret(fmt.Sprintf("Enter crawler bearer token for %s: ", instance))
		if secret == "" {
			fmt.Fprintln(os.Stderr, "error: token must not be empty")
			os.Exit(1)
		}
		if err := v.Set(name, secret); err != nil {
			fmt.Fprintf(os.Stderr, "error storing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Token stored. Set instances.%s.token_ref = \"keyring://corgi/%s\" in your config.\n", instance, name)

	case "resolve":
		if len(args) < 2 {
			fmt.Println("Usage: corgi identity resolve <key-ref>")
			os.Exit(1)
		}
		if _, err := v.ResolveKeyRef(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "not found: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("ok: secret resolves")

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: corgi identity delete <name>")
			os.Exit(1)
		}
		if err := v.Delete(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret %q deleted\n", args[1])

	default:
		fmt.Fprintf(os.Stderr, "unknown identity command: %s\n", args[0])
		os.Exit(1)
	}
}

// randomSalt generates a 256-bit salt, hex-encoded, for identity.Deriver.
func randomSalt() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "error generating random salt: %v\n", err)
		os.Exit(1)
	}
	return hex.EncodeToString(buf)
}

func readMaskedSecret(prompt string) string {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
		os.Exit(1)
	}
	return string(secret)
}
