package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docbro/docbro/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and exchange project configuration",
}

var (
	exportFormat string
	exportOutput string

	importFormat string
	importMerge  bool
)

var configShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show effective settings with per-key provenance",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigShow,
}

var configExportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Export effective settings",
	Long: `Export a project's effective settings.

Examples:
  # Print as YAML
  docbro config export kb

  # Write JSON to a file
  docbro config export kb --format json --output kb.json`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigExport,
}

var configImportCmd = &cobra.Command{
	Use:   "import <project> <file>",
	Short: "Import settings as project overrides",
	Long: `Import settings from a file into a project's overrides layer.

By default the imported settings replace the existing overrides; with
--merge they are merged on top. The result is validated before anything
is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigImport,
}

func init() {
	configExportCmd.Flags().StringVar(&exportFormat, "format", "yaml", "output format: yaml or json")
	configExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")

	configImportCmd.Flags().StringVar(&importFormat, "format", "yaml", "input format: yaml or json")
	configImportCmd.Flags().BoolVar(&importMerge, "merge", false, "merge into existing overrides instead of replacing")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.resolver.GetSummary(args[0])
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(summary.Effective))
	for k := range summary.Effective {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cmd.Printf("Project: %s (type: %s)\n\n", summary.Name, summary.Type)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"SETTING", "VALUE", "SOURCE"})
	table.SetBorder(false)
	for _, k := range keys {
		table.Append([]string{k, fmt.Sprint(summary.Effective[k]), summary.SettingSources[k]})
	}
	table.Render()
	return nil
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	format, err := config.ParseExportFormat(exportFormat)
	if err != nil {
		return err
	}

	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := a.resolver.Export(args[0], format)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		if err := os.WriteFile(exportOutput, []byte(text), 0o644); err != nil {
			return err
		}
		cmd.Printf("Settings exported to %s\n", exportOutput)
		return nil
	}
	cmd.Print(text)
	return nil
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	format, err := config.ParseExportFormat(importFormat)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.resolver.Import(args[0], string(raw), format, importMerge); err != nil {
		return err
	}
	cmd.Printf("Settings imported into project %q\n", args[0])
	return nil
}
