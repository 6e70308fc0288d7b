package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nexus-rebac/rebac/internal/manager"
)

var deleteZone string

var deleteCmd = &cobra.Command{
	Use:   "delete <subject> <relation> <object>",
	Short: "remove a relation tuple",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := parseSubject(args[0])
		if err != nil {
			return err
		}
		object, err := parseEntity(args[2])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.mgr.Delete(context.Background(), manager.DeleteRequest{
			Subject: subject, Relation: args[1], Object: object, ZoneID: deleteZone,
		}); err != nil {
			return err
		}
		printf("deleted %s --[%s]--> %s", subject, args[1], object)
		return nil
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteZone, "zone", "", "zone id (required)")
	_ = deleteCmd.MarkFlagRequired("zone")
}
