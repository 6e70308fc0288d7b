package main

import (
	"github.com/spf13/cobra"
)

var namespacesCmd = &cobra.Command{
	Use:   "namespaces <dir>",
	Short: "compile and load namespace schemas from a directory",
	Long: `Reads every *.yaml/*.yml/*.json file in dir, compiles each as a
namespace schema named after its filename, and atomically swaps them
into the registry.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.loadNamespaces(args[0]); err != nil {
			return err
		}
		printf("loaded %d namespaces from %s", len(a.registry.All()), args[0])
		return nil
	},
}
