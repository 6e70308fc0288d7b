package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply the tuple store and bitmap cache DDL",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.applyMigrations(); err != nil {
			return err
		}
		printf("migrated %s store", a.dialectN)
		return nil
	},
}
