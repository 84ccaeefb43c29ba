package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/store"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects (create, list, remove, stats)",
}

var (
	createType     string
	createSettings []string
	createForce    bool

	listStatus string
	listType   string

	removeBackup bool
	removeForce  bool
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Long: `Create a new typed project.

Examples:
  # Create a storage project
  docbro project create archive --type storage

  # Create a data project with chunking overrides
  docbro project create kb --type data --set chunk_size=500 --set chunk_overlap=50`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE:  runProjectList,
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a project",
	Long: `Remove a project, its data directory and its registry row.

Examples:
  # Remove with a timestamped backup
  docbro project remove archive --backup

  # Remove even if handler cleanup fails
  docbro project remove archive --force`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectRemove,
}

var projectStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show project statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectStats,
}

func init() {
	projectCreateCmd.Flags().StringVar(&createType, "type", "", "project type: crawling, data or storage (required)")
	projectCreateCmd.Flags().StringArrayVar(&createSettings, "set", nil, "initial setting override key=value (repeatable)")
	projectCreateCmd.Flags().BoolVar(&createForce, "force", false, "replace an existing project with the same name")
	_ = projectCreateCmd.MarkFlagRequired("type")

	projectListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	projectListCmd.Flags().StringVar(&listType, "type", "", "filter by type")

	projectRemoveCmd.Flags().BoolVar(&removeBackup, "backup", false, "write a timestamped backup before removal")
	projectRemoveCmd.Flags().BoolVar(&removeForce, "force", false, "proceed even when handler cleanup fails")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectStatsCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := parseSettingOverrides(createSettings)
	if err != nil {
		return err
	}

	p, err := a.projects.Create(cmd.Context(), project.CreateRequest{
		Name:     args[0],
		Type:     config.ProjectType(createType),
		Settings: settings,
		Force:    createForce,
	})
	if err != nil {
		return err
	}
	cmd.Printf("Project %q created (type: %s)\n", p.Name, p.Type)
	cmd.Printf("Data directory: %s\n", p.Dir)
	return nil
}

func runProjectList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.projects.List(cmd.Context(), store.ProjectFilter{
		Status: listStatus,
		Type:   listType,
	})
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		cmd.Println("No projects found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "TYPE", "STATUS", "CREATED", "UPDATED"})
	table.SetBorder(false)
	for _, p := range projects {
		table.Append([]string{
			p.Name,
			string(p.Type),
			string(p.Status),
			p.CreatedAt.Format("2006-01-02 15:04"),
			p.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}

func runProjectRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	backupPath, err := a.projects.Remove(cmd.Context(), args[0], project.RemoveOptions{
		Backup: removeBackup,
		Force:  removeForce,
	})
	if err != nil {
		return err
	}
	cmd.Printf("Project %q removed\n", args[0])
	if backupPath != "" {
		cmd.Printf("Backup written to: %s\n", backupPath)
	}
	return nil
}

func runProjectStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.projects.Stats(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"STATISTIC", "VALUE"})
	table.SetBorder(false)
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprint(stats[k])})
	}
	table.Render()
	return nil
}

// parseSettingOverrides turns repeated key=value flags into a settings map.
// Values stay strings; the resolver's weakly-typed decode coerces them.
func parseSettingOverrides(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := splitKeyValue(pair)
		if !ok {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}

func splitKeyValue(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
