package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	mergeProjectID     string
	mergeSourceBranch  string
	mergeTargetBranch  string
	mergeNotes         string
	mergeConflictStage bool
	mergeSubmitGate    bool
)

var mergesCmd = &cobra.Command{
	Use:   "merges",
	Short: "Manage branch merges",
}

var mergesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List merges in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeProjectID == "" {
			return fmt.Errorf("--project is required")
		}

		var resp struct {
			Merges []map[string]any `json:"merges"`
		}
		if err := newClient().getJSON("/api/v1/projects/"+mergeProjectID+"/merges", &resp); err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(resp.Merges)
		}
		rows := make([][]string, len(resp.Merges))
		for i, m := range resp.Merges {
			rows[i] = []string{
				str(m["id"]), str(m["sourceBranchId"]), str(m["targetBranchId"]), str(m["status"]),
			}
		}
		printTable([]string{"ID", "SOURCE", "TARGET", "STATUS"}, rows)
		return nil
	},
}

var mergesGetCmd = &cobra.Command{
	Use:   "get <merge-id>",
	Short: "Show a merge with its conflicts and jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeProjectID == "" {
			return fmt.Errorf("--project is required")
		}
		var detail map[string]any
		err := newClient().getJSON("/api/v1/projects/"+mergeProjectID+"/merges/"+args[0], &detail)
		if err != nil {
			return err
		}
		return printJSON(detail)
	},
}

var mergesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a merge between two branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		if mergeProjectID == "" || mergeSourceBranch == "" || mergeTargetBranch == "" {
			return fmt.Errorf("--project, --source and --target are required")
		}

		var merge map[string]any
		err := newClient().postJSON("/api/v1/projects/"+mergeProjectID+"/merges", map[string]any{
			"sourceBranchId":      mergeSourceBranch,
			"targetBranchId":      mergeTargetBranch,
			"notes":               mergeNotes,
			"withConflictStaging": mergeConflictStage,
			"withSubmitGate":      mergeSubmitGate,
		}, &merge)
		if err != nil {
			return err
		}
		return printJSON(merge)
	},
}

func mergeActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <merge-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mergeProjectID == "" {
				return fmt.Errorf("--project is required")
			}
			var merge map[string]any
			err := newClient().postJSON(
				"/api/v1/projects/"+mergeProjectID+"/merges/"+args[0]+"/"+action,
				map[string]any{}, &merge)
			if err != nil {
				return err
			}
			return printJSON(merge)
		},
	}
}

func init() {
	mergesCmd.PersistentFlags().StringVar(&mergeProjectID, "project", "", "Project ID")
	mergesCreateCmd.Flags().StringVar(&mergeSourceBranch, "source", "", "Source branch ID")
	mergesCreateCmd.Flags().StringVar(&mergeTargetBranch, "target", "", "Target branch ID")
	mergesCreateCmd.Flags().StringVar(&mergeNotes, "notes", "", "Merge notes")
	mergesCreateCmd.Flags().BoolVar(&mergeConflictStage, "with-conflict-staging", false, "Seed a conflict staging job")
	mergesCreateCmd.Flags().BoolVar(&mergeSubmitGate, "with-submit-gate", false, "Seed a submit gate job")

	mergesCmd.AddCommand(mergesListCmd)
	mergesCmd.AddCommand(mergesGetCmd)
	mergesCmd.AddCommand(mergesCreateCmd)
	mergesCmd.AddCommand(mergeActionCmd("complete", "Complete a merge once its gate clears"))
	mergesCmd.AddCommand(mergeActionCmd("cancel", "Cancel a merge"))
	mergesCmd.AddCommand(mergeActionCmd("reopen", "Reopen a conflicted merge after resolving conflicts"))
}
