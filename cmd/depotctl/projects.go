package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	projectName            string
	projectCode            string
	projectDescription     string
	projectIncludeArchived bool
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage depot projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/projects"
		if projectIncludeArchived {
			path += "?includeArchived=true"
		}

		var resp struct {
			Projects []map[string]any `json:"projects"`
		}
		if err := newClient().getJSON(path, &resp); err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(resp.Projects)
		}
		rows := make([][]string, len(resp.Projects))
		for i, p := range resp.Projects {
			rows[i] = []string{
				str(p["id"]), str(p["code"]), str(p["name"]), str(p["status"]),
			}
		}
		printTable([]string{"ID", "CODE", "NAME", "STATUS"}, rows)
		return nil
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get <project-id>",
	Short: "Show one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var project map[string]any
		if err := newClient().getJSON("/api/v1/projects/"+args[0], &project); err != nil {
			return err
		}
		return printJSON(project)
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectName == "" || projectCode == "" {
			return fmt.Errorf("--name and --code are required")
		}

		var project map[string]any
		err := newClient().postJSON("/api/v1/projects", map[string]any{
			"name":        projectName,
			"code":        projectCode,
			"description": projectDescription,
		}, &project)
		if err != nil {
			return err
		}
		return printJSON(project)
	},
}

var projectsArchiveCmd = &cobra.Command{
	Use:   "archive <project-id>",
	Short: "Archive a project (one-way)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var project map[string]any
		err := newClient().postJSON("/api/v1/projects/"+args[0]+"/archive", map[string]any{}, &project)
		if err != nil {
			return err
		}
		return printJSON(project)
	},
}

func init() {
	projectsListCmd.Flags().BoolVar(&projectIncludeArchived, "include-archived", false, "Include archived projects")
	projectsCreateCmd.Flags().StringVar(&projectName, "name", "", "Project name")
	projectsCreateCmd.Flags().StringVar(&projectCode, "code", "", "Unique project code")
	projectsCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsGetCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsArchiveCmd)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
