// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Afk-token manages the relay daemon's bearer token file.
//
//	afk-token issue --user alice --token-file tokens.yaml
//	afk-token list --token-file tokens.yaml
//	afk-token revoke --hash <hex> --token-file tokens.yaml
//
// The token file stores only hashes; the plaintext token is printed
// once by issue and cannot be recovered afterwards. The daemon reads
// the file at startup, so changes take effect on its next restart.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/clharman/afk-code/lib/auth"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "afk-token: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: afk-token <issue|list|revoke> [flags]")
	}
	switch os.Args[1] {
	case "issue":
		return runIssue(os.Args[2:])
	case "list":
		return runList(os.Args[2:])
	case "revoke":
		return runRevoke(os.Args[2:])
	default:
		return fmt.Errorf("unknown command %q (want issue, list, or revoke)", os.Args[1])
	}
}

func runIssue(args []string) error {
	flags := pflag.NewFlagSet("afk-token issue", pflag.ContinueOnError)
	user := flags.String("user", "", "user ID the token authenticates as")
	tokenFile := flags.String("token-file", "", "token file to update")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	if *tokenFile == "" {
		return fmt.Errorf("--token-file is required")
	}

	service := auth.NewService()
	if err := service.LoadTokenFile(*tokenFile); err != nil {
		return err
	}
	token, err := service.IssueToken(*user)
	if err != nil {
		return err
	}
	if err := service.SaveTokenFile(*tokenFile); err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runList(args []string) error {
	flags := pflag.NewFlagSet("afk-token list", pflag.ContinueOnError)
	tokenFile := flags.String("token-file", "", "token file to read")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *tokenFile == "" {
		return fmt.Errorf("--token-file is required")
	}

	service := auth.NewService()
	if err := service.LoadTokenFile(*tokenFile); err != nil {
		return err
	}
	for _, entry := range service.Entries() {
		fmt.Printf("%s\t%s\t%s\n",
			entry.UserID, entry.Hash, entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func runRevoke(args []string) error {
	flags := pflag.NewFlagSet("afk-token revoke", pflag.ContinueOnError)
	hash := flags.String("hash", "", "token hash to revoke (from afk-token list)")
	tokenFile := flags.String("token-file", "", "token file to update")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *hash == "" {
		return fmt.Errorf("--hash is required")
	}
	if *tokenFile == "" {
		return fmt.Errorf("--token-file is required")
	}

	service := auth.NewService()
	if err := service.LoadTokenFile(*tokenFile); err != nil {
		return err
	}
	found := false
	for _, entry := range service.Entries() {
		if entry.Hash == *hash {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no token with hash %q", *hash)
	}
	service.RevokeHash(*hash)
	return service.SaveTokenFile(*tokenFile)
}
