package main

import (
	"context"

	"github.com/spf13/cobra"
)

var expandZone string

var expandCmd = &cobra.Command{
	Use:   "expand <permission> <object>",
	Short: "list every subject currently granted permission on object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		object, err := parseEntity(args[1])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		subjects, err := a.mgr.Expand(context.Background(), args[0], object, expandZone)
		if err != nil {
			return err
		}
		for _, s := range subjects {
			printf("%s", s)
		}
		return nil
	},
}

func init() {
	expandCmd.Flags().StringVar(&expandZone, "zone", "", "zone id (required)")
	_ = expandCmd.MarkFlagRequired("zone")
}
