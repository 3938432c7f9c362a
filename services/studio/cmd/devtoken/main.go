// Command devtoken mints an access token the studio accepts, for local runs
// where no auth provider is available. It reads the same config as the
// service so the secret, issuer and audience always match.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ideaforge/internal/usertoken"
	"ideaforge/services/studio/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to the studio config (defaults to STUDIO_CONFIG, then config.yaml)")
	userID := flag.String("user", "", "User id placed in the token subject")
	email := flag.String("email", "", "Optional email claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	if strings.TrimSpace(*userID) == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -user <id> [-email <email>] [-ttl 1h] [-config path]\n", os.Args[0])
		os.Exit(2)
	}
	if *ttl <= 0 {
		exitErr(fmt.Errorf("ttl must be positive, got %s", *ttl))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		exitErr(err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		exitErr(err)
	}
	token, err := verifier.Sign(usertoken.Identity{UserID: *userID, Email: *email}, *ttl)
	if err != nil {
		exitErr(err)
	}
	fmt.Println(token)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
