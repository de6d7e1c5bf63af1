// Package main is the entry point for the Cloudidada admin CLI.
// This tool provisions the remote store and seeds users outside the server process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/app"
	"github.com/prn-tf/cloudidada/internal/config"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Cloudidada Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "provision", "seed", "status":
		if err := runCommand(command, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runCommand(command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	verbose := fs.Bool("verbose", false, "log to stderr")
	timeout := fs.Duration("timeout", time.Minute, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if *verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Probe(ctx)

	switch command {
	case "provision":
		res, err := a.Provision.InitDB(ctx)
		printJSON(res)
		return err

	case "seed":
		if !a.Store.RemoteUsable() {
			return fmt.Errorf("remote store %q is not usable: %s", a.Store.RemoteName(), a.Store.Breaker().Reason())
		}
		demoKey, err := a.Seed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d user(s)\n", len(cfg.Seed.Users))
		if demoKey != "" {
			fmt.Printf("Demo API key: %s\n", demoKey)
		}
		return nil

	default:
		b := a.Store.Breaker()
		fmt.Printf("Remote store:  %s\n", a.Store.RemoteName())
		fmt.Printf("Breaker:       %s\n", b.State())
		if reason := b.Reason(); reason != "" {
			fmt.Printf("Reason:        %s\n", reason)
		}
		fmt.Printf("Object store:  %s\n", a.Uploader.Name())
		return nil
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage() {
	fmt.Println(`Cloudidada Admin CLI

Usage:
  cloudidada-admin <command> [arguments]

Commands:
  provision   Create the remote store schema, collections and indexes
  seed        Store the demo user and configured seed users in the remote store
  status      Probe the remote store and print the breaker state
  version     Print version information
  help        Show this help message

Flags:
  --config    Path to config file (default: search ., ./configs, /etc/cloudidada)
  --timeout   Overall timeout (default: 1m)
  --verbose   Log to stderr

Examples:
  cloudidada-admin provision --config configs/config.yaml
  CLOUDIDADA_DATABASE_DRIVER=postgres cloudidada-admin seed
  cloudidada-admin status --verbose`)
}
