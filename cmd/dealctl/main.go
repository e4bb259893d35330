package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/kyodoai/dealdesk/internal/config"
	"github.com/kyodoai/dealdesk/internal/platform"
	"github.com/kyodoai/dealdesk/internal/session"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	auth := platform.NewAuth(cfg.Platform.StoreURL, cfg.Platform.AnonKey, logger)
	_ = auth.LoadToken(session.TokenPath(sessionName))
	client := platform.NewClient(cfg.Platform.StoreURL, cfg.Platform.BackendURL, cfg.Platform.AnonKey, auth, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		cmdLogin(ctx, auth, sessionName, args[1:])
	case "logout":
		cmdLogout(ctx, auth, sessionName)
	case "scan":
		cmdScan(ctx, client, *jsonFlag)
	case "deals":
		cmdDeals(ctx, client, auth, *jsonFlag)
	case "activate":
		cmdToggle(ctx, client, args[1:], true)
	case "deactivate":
		cmdToggle(ctx, client, args[1:], false)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: dealctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <email>      Sign in and cache the session token")
	fmt.Fprintln(os.Stderr, "  logout             Revoke and forget the cached token")
	fmt.Fprintln(os.Stderr, "  scan               Ask the agent backend to rescan the mailbox")
	fmt.Fprintln(os.Stderr, "  deals              List activated deals")
	fmt.Fprintln(os.Stderr, "  activate <id>      Turn the agent on for a deal")
	fmt.Fprintln(os.Stderr, "  deactivate <id>    Turn the agent off for a deal")
}

func cmdLogin(ctx context.Context, auth *platform.Auth, sessionName string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dealctl login <email>")
		os.Exit(1)
	}
	email := args[0]

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := auth.SignIn(ctx, email, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := auth.SaveToken(session.TokenPath(sessionName)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed in.")
}

func cmdLogout(ctx context.Context, auth *platform.Auth, sessionName string) {
	if err := auth.SignOut(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if err := os.Remove(session.TokenPath(sessionName)); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed out.")
}

func cmdScan(ctx context.Context, client *platform.Client, jsonOut bool) {
	result, err := client.SearchEmails(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(result)
		return
	}
	fmt.Printf("Found %d deals\n", result.Summary.TotalFound)
	for label, n := range result.Summary.ByLabel {
		fmt.Printf("  %-12s %d\n", label, n)
	}
}

func cmdDeals(ctx context.Context, client *platform.Client, auth *platform.Auth, jsonOut bool) {
	creds, err := auth.Credentials()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: not signed in; run dealctl login first")
		os.Exit(1)
	}
	deals, err := client.ListActiveDeals(ctx, creds.UserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(deals)
		return
	}
	for _, d := range deals {
		flag := " "
		if d.AIActivated {
			flag = "*"
		}
		fmt.Printf("%s %-24s %-14s %-40s %s\n", flag, d.ID, d.Budget, d.Subject, d.FromName)
	}
}

func cmdToggle(ctx context.Context, client *platform.Client, args []string, on bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dealctl activate|deactivate <deal-id>")
		os.Exit(1)
	}
	if err := client.ToggleAIActivation(ctx, args[0], on); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if on {
		fmt.Println("Agent activated.")
	} else {
		fmt.Println("Agent deactivated.")
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
