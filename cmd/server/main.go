package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagAddr    string
	flagDBPath  string
	flagLogMode string

	rootCmd = &cobra.Command{
		Use:           "mcengine",
		Short:         "Assessment completion and aggregation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateRolesCmd = &cobra.Command{
		Use:   "migrate-roles",
		Short: "Assign employer/employee roles to actors created before role tags existed",
		RunE:  runMigrateRoles,
	}

	actorCmd = &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
	}

	actorAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Create or update an actor with a password",
		RunE:  runActorAdd,
	}
)

func init() {
	cfg := configFromEnv()
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", cfg.DBPath, "sqlite database path (MCE_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagLogMode, "log-mode", cfg.LogMode, "log mode: dev or prod (MCE_LOG_MODE)")
	serveCmd.Flags().StringVar(&flagAddr, "addr", cfg.Addr, "listen address (MCE_ADDR)")

	actorAddCmd.Flags().String("id", "", "actor id (generated when empty)")
	actorAddCmd.Flags().String("email", "", "login email")
	actorAddCmd.Flags().String("name", "", "display name")
	actorAddCmd.Flags().String("password", "", "login password")
	actorAddCmd.Flags().StringSlice("role", nil, "role tag, repeatable")
	actorAddCmd.Flags().String("employer", "", "linked employer actor id")
	_ = actorAddCmd.MarkFlagRequired("email")
	_ = actorAddCmd.MarkFlagRequired("password")

	actorCmd.AddCommand(actorAddCmd)
	rootCmd.AddCommand(serveCmd, migrateRolesCmd, actorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
