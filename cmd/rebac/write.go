package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nexus-rebac/rebac/internal/manager"
)

var (
	writeZone        string
	writeSubjectZone string
	writeObjectZone  string
)

var writeCmd = &cobra.Command{
	Use:   "write <subject> <relation> <object>",
	Short: "create a relation tuple",
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

		tupleID, err := a.mgr.Write(context.Background(), manager.WriteRequest{
			Subject: subject, Relation: args[1], Object: object,
			ZoneID: writeZone, SubjectZoneID: writeSubjectZone, ObjectZoneID: writeObjectZone,
		})
		if err != nil {
			return err
		}
		printf("wrote %s --[%s]--> %s (tuple_id %s)", subject, args[1], object, tupleID)
		return nil
	},
}

func init() {
	writeCmd.Flags().StringVar(&writeZone, "zone", "", "zone id (required)")
	writeCmd.Flags().StringVar(&writeSubjectZone, "subject-zone", "", "subject's zone, if different (cross-zone share)")
	writeCmd.Flags().StringVar(&writeObjectZone, "object-zone", "", "object's zone, if different")
	_ = writeCmd.MarkFlagRequired("zone")
}
