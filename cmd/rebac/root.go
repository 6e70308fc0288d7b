package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagDSN     string
	flagDialect string
	flagVerbose int
	flagQuiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "rebac",
	Short: "Nexus ReBAC engine",
	Long: `rebac - Zanzibar-style relationship-based access control

Operates the tuple store, namespace schemas, and permission checks behind
a multi-tier cache hierarchy fronting a multi-tenant virtual filesystem.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

const (
	groupSchema = "schema"
	groupQuery  = "query"
	groupServer = "server"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (YAML/JSON, optional)")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "database DSN (defaults to an in-memory sqlite store)")
	rootCmd.PersistentFlags().StringVar(&flagDialect, "dialect", "", "storage dialect: postgres or sqlite (default sqlite)")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress non-error logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupQuery, Title: "Query:"},
		&cobra.Group{ID: groupServer, Title: "Server:"},
	)

	migrateCmd.GroupID = groupSchema
	namespacesCmd.GroupID = groupSchema
	rootCmd.AddCommand(migrateCmd, namespacesCmd)

	checkCmd.GroupID = groupQuery
	writeCmd.GroupID = groupQuery
	deleteCmd.GroupID = groupQuery
	expandCmd.GroupID = groupQuery
	explainCmd.GroupID = groupQuery
	rootCmd.AddCommand(checkCmd, writeCmd, deleteCmd, expandCmd, explainCmd)

	serveCmd.GroupID = groupServer
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
