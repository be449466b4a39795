package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	lockProjectID   string
	lockWorkspaceID string
	lockNotes       string
	lockTTLMinutes  int
	lockHolder      string
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and manage asset locks",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List locks in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if lockProjectID == "" {
			return fmt.Errorf("--project is required")
		}
		path := "/api/v1/projects/" + lockProjectID + "/locks"
		if lockHolder != "" {
			path += "?lockedBy=" + url.QueryEscape(lockHolder)
		}

		var resp struct {
			Locks []map[string]any `json:"locks"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(resp.Locks)
		}
		rows := make([][]string, len(resp.Locks))
		for i, l := range resp.Locks {
			rows[i] = []string{
				str(l["assetId"]), str(l["lockedBy"]), str(l["workspaceId"]), str(l["expiresAt"]),
			}
		}
		printTable([]string{"ASSET", "HOLDER", "WORKSPACE", "EXPIRES"}, rows)
		return nil
	},
}

var locksAcquireCmd = &cobra.Command{
	Use:   "acquire <asset-id>",
	Short: "Acquire an exclusive lock on an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if lockProjectID == "" || lockWorkspaceID == "" {
			return fmt.Errorf("--project and --workspace are required")
		}

		body := map[string]any{
			"assetId":     args[0],
			"workspaceId": lockWorkspaceID,
			"notes":       lockNotes,
		}
		if lockTTLMinutes > 0 {
			body["ttlMinutes"] = lockTTLMinutes
		}

		var lock map[string]any
		err := newClient().postJSON("/api/v1/projects/"+lockProjectID+"/locks", body, &lock)
		if err != nil {
			return err
		}
		return printJSON(lock)
	},
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release <asset-id>",
	Short: "Release a lock held on an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if lockProjectID == "" {
			return fmt.Errorf("--project is required")
		}
		if err := newClient().delete("/api/v1/projects/" + lockProjectID + "/locks/" + args[0]); err != nil {
			return err
		}
		fmt.Println("released")
		return nil
	},
}

func init() {
	locksCmd.PersistentFlags().StringVar(&lockProjectID, "project", "", "Project ID")
	locksListCmd.Flags().StringVar(&lockHolder, "holder", "", "Filter by holder user ID")
	locksAcquireCmd.Flags().StringVar(&lockWorkspaceID, "workspace", "", "Workspace holding the lock")
	locksAcquireCmd.Flags().StringVar(&lockNotes, "notes", "", "Lock notes")
	locksAcquireCmd.Flags().IntVar(&lockTTLMinutes, "ttl-minutes", 0, "Lock expiry in minutes (0 = no expiry)")

	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksAcquireCmd)
	locksCmd.AddCommand(locksReleaseCmd)
}
