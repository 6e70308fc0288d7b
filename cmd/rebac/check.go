package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-rebac/rebac/internal/check"
	"github.com/nexus-rebac/rebac/internal/manager"
)

var checkZone string
var checkMaxDepth int

var checkCmd = &cobra.Command{
	Use:   "check <subject> <permission> <object>",
	Short: "check whether subject holds permission on object",
	Long:  `subject and object are "type:id" (subject also accepts "type:id#relation").`,
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

		ok, err := a.mgr.Check(context.Background(), manager.CheckRequest{
			Subject: subject, Permission: args[1], Object: object,
			ZoneID: checkZone, MaxDepth: checkMaxDepth,
		})
		if err != nil {
			return err
		}
		printf("%v", ok)
		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkZone, "zone", "", "zone id (required)")
	checkCmd.Flags().IntVar(&checkMaxDepth, "max-depth", 0, "per-request depth cap (0 = use configured default)")
	_ = checkCmd.MarkFlagRequired("zone")
}

var explainZone string
var explainMaxDepth int

var explainCmd = &cobra.Command{
	Use:   "explain <subject> <permission> <object>",
	Short: "explain why a check would or wouldn't grant, printing the decision tree",
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

		ok, node, err := a.mgr.Explain(context.Background(), manager.CheckRequest{
			Subject: subject, Permission: args[1], Object: object,
			ZoneID: explainZone, MaxDepth: explainMaxDepth,
		})
		if err != nil {
			return err
		}
		printf("granted: %v", ok)
		printExplainNode(node, 0)
		return nil
	},
}

func printExplainNode(n *check.PathNode, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	printf("%s%s --[%s]--> %s granted=%v (%s)", indent, n.Subject, n.Permission, n.Object, n.Granted, n.Reason)
	for _, child := range n.Children {
		printExplainNode(child, depth+1)
	}
}

func init() {
	explainCmd.Flags().StringVar(&explainZone, "zone", "", "zone id (required)")
	explainCmd.Flags().IntVar(&explainMaxDepth, "max-depth", 0, "per-request depth cap (0 = use configured default)")
	_ = explainCmd.MarkFlagRequired("zone")
}
