package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/pkg/store"
)

var (
	opsProject string
	opsStatus  string
	opsLimit   int
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List recorded upload operations",
	Long: `List upload operations recorded in the registry, newest first.

Examples:
  # Last 20 operations across all projects
  docbro operations

  # Failed operations for one project
  docbro operations --project archive --status failed`,
	RunE: runOperations,
}

func init() {
	operationsCmd.Flags().StringVar(&opsProject, "project", "", "filter by project name")
	operationsCmd.Flags().StringVar(&opsStatus, "status", "", "filter by status")
	operationsCmd.Flags().IntVar(&opsLimit, "limit", 20, "maximum number of rows")
}

func runOperations(cmd *cobra.Command, _ []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := store.OperationFilter{Status: opsStatus, Limit: opsLimit}
	if opsProject != "" {
		p, err := a.registry.GetProject(cmd.Context(), opsProject)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	ops, err := a.registry.ListOperations(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		cmd.Println("No operations found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "STATUS", "SOURCE", "FILES", "BYTES", "STARTED"})
	table.SetBorder(false)
	for _, op := range ops {
		started := ""
		if op.StartedAt != nil {
			started = op.StartedAt.Format("2006-01-02 15:04")
		}
		table.Append([]string{
			op.ID,
			op.Status,
			op.SourceType,
			fmt.Sprintf("%d/%d", op.FilesProcessed, op.FilesTotal),
			bytesize.ByteSize(op.BytesProcessed).String(),
			started,
		})
	}
	table.Render()
	return nil
}
