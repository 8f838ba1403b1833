package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
)

// Supported subcommands:
// - upsert:  Write spots from a YAML file and announce the changes
// - remove:  Delete spots by id and announce the changes
// - migrate: Create the PostGIS extension and the spots table

func main() {
	upsertCmd := flag.NewFlagSet("upsert", flag.ExitOnError)
	removeCmd := flag.NewFlagSet("remove", flag.ExitOnError)
	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)

	// upsert parameters
	upsertFile := upsertCmd.String("file", "./config/spots.yaml", "YAML file with a top-level spots list")
	upsertProvider := upsertCmd.String("provider", "", "Provider kind override (redis, postgres)")

	// remove parameters
	removeIDs := removeCmd.String("ids", "", "Comma separated spot ids")
	removeProvider := removeCmd.String("provider", "", "Provider kind override (redis, postgres)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	flags := spotctlFlags{
		Upsert: upsertFlags{
			cmd:      upsertCmd,
			file:     upsertFile,
			provider: upsertProvider,
		},
		Remove: removeFlags{
			cmd:      removeCmd,
			ids:      removeIDs,
			provider: removeProvider,
		},
		Migrate: migrateFlags{
			cmd: migrateCmd,
		},
	}

	if err := runSubcommand(ctx, &flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type spotctlFlags struct {
	Upsert  upsertFlags
	Remove  removeFlags
	Migrate migrateFlags
}

type upsertFlags struct {
	cmd      *flag.FlagSet
	file     *string
	provider *string
}

type removeFlags struct {
	cmd      *flag.FlagSet
	ids      *string
	provider *string
}

type migrateFlags struct {
	cmd *flag.FlagSet
}

func runSubcommand(ctx context.Context, flags *spotctlFlags) error {
	switch os.Args[1] {
	case "upsert":
		if err := flags.Upsert.cmd.Parse(os.Args[2:]); err != nil {
			return errors.Wrap(err, "failed to parse upsert flags")
		}

		return runUpsert(ctx, *flags.Upsert.file, *flags.Upsert.provider)
	case "remove":
		if err := flags.Remove.cmd.Parse(os.Args[2:]); err != nil {
			return errors.Wrap(err, "failed to parse remove flags")
		}

		return runRemove(ctx, *flags.Remove.ids, *flags.Remove.provider)
	case "migrate":
		if err := flags.Migrate.cmd.Parse(os.Args[2:]); err != nil {
			return errors.Wrap(err, "failed to parse migrate flags")
		}

		return runMigrate(ctx)
	case "help", "-h", "--help":
		printUsage()

		return nil
	default:
		printUsage()

		return errors.Errorf("unknown subcommand: %s", os.Args[1])
	}
}

func printUsage() {
	fmt.Println("Spot administration tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  spotctl <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  upsert   Write spots from a YAML file")
	fmt.Println("  remove   Delete spots by id")
	fmt.Println("  migrate  Create the PostGIS spots schema")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  spotctl upsert -file ./config/spots.yaml -provider redis")
	fmt.Println("  spotctl remove -ids taipei-101,daan-park")
	fmt.Println("  spotctl migrate")
}
