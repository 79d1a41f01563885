// Command soc-admin is the operator CLI for tasks that don't belong in a
// long-running service: applying database migrations out of band, and
// listing/creating detection rules against a running deployment's database.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/target/soc-core/internal/bootstrap"
	"github.com/target/soc-core/internal/data"
	"github.com/target/soc-core/internal/domain/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := bootstrap.InitLogger()
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	var cmdErr error
	switch os.Args[1] {
	case "migrate":
		cmdErr = bootstrap.RunMigrations(ctx, db, logger)
	case "rules":
		cmdErr = runRules(ctx, db, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		logger.Error("soc-admin command failed", "command", os.Args[1], "error", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: soc-admin <command> [arguments]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  migrate            apply pending database migrations")
	fmt.Fprintln(os.Stderr, "  rules list         list all detection rules")
	fmt.Fprintln(os.Stderr, "  rules create -file <path>   create a detection rule from a JSON file (or stdin if -file is omitted)")
}

func runRules(ctx context.Context, db *sql.DB, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("rules: missing subcommand")
	}

	repo := data.NewDetectionRuleRepo(db)
	switch args[0] {
	case "list":
		return rulesList(ctx, repo)
	case "create":
		return rulesCreate(ctx, repo, args[1:])
	default:
		usage()
		return fmt.Errorf("rules: unknown subcommand %q", args[0])
	}
}

func rulesList(ctx context.Context, repo *data.DetectionRuleRepo) error {
	rules, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list detection rules: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, rule := range rules {
		if err := enc.Encode(rule); err != nil {
			return fmt.Errorf("encode detection rule: %w", err)
		}
	}
	return nil
}

func rulesCreate(ctx context.Context, repo *data.DetectionRuleRepo, args []string) error {
	fs := flag.NewFlagSet("rules create", flag.ExitOnError)
	filePath := fs.String("file", "", "path to a JSON file describing the rule (defaults to stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var reader io.Reader = os.Stdin
	if *filePath != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			return fmt.Errorf("open rule file: %w", err)
		}
		defer f.Close()
		reader = f
	}

	var req model.CreateRuleRequest
	if err := json.NewDecoder(reader).Decode(&req); err != nil {
		return fmt.Errorf("decode rule request: %w", err)
	}

	rule, err := repo.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create detection rule: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rule)
}
