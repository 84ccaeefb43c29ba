package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/upload"
	"github.com/docbro/docbro/pkg/upload/source"
)

var (
	uploadProject   string
	uploadType      string
	uploadUsername  string
	uploadPassword  string
	uploadToken     string
	uploadKeyPath   string
	uploadRecursive bool
	uploadExclude   []string
	uploadConflict  string
	uploadDryRun    bool
	uploadInsecure  bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <location>",
	Short: "Upload files into a project",
	Long: `Upload files from a local path or a remote source into a project.

The source type is inferred from the location scheme when --type is not
given: http(s)://, ftp://, sftp://, smb:// and plain paths are recognized.

Examples:
  # Upload a local directory recursively
  docbro upload /data/docs --project archive --recursive

  # Download over HTTPS with a bearer token
  docbro upload https://example.com/report.pdf --project archive --token $TOKEN

  # Mirror an FTP folder, skipping logs
  docbro upload ftp://ftp.example.com/pub --project archive --recursive --exclude '*.log'

  # Ask interactively on filename collisions
  docbro upload /data/docs --project archive --conflict ask`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadProject, "project", "", "target project (required)")
	uploadCmd.Flags().StringVar(&uploadType, "type", "", "source type: local, ftp, sftp, smb, http, https")
	uploadCmd.Flags().StringVar(&uploadUsername, "username", "", "source username")
	uploadCmd.Flags().StringVar(&uploadPassword, "password", "", "source password")
	uploadCmd.Flags().StringVar(&uploadToken, "token", "", "bearer token for http(s) sources")
	uploadCmd.Flags().StringVar(&uploadKeyPath, "key", "", "private key path for sftp sources")
	uploadCmd.Flags().BoolVarP(&uploadRecursive, "recursive", "r", false, "recurse into directories")
	uploadCmd.Flags().StringArrayVar(&uploadExclude, "exclude", nil, "glob pattern to exclude (repeatable)")
	uploadCmd.Flags().StringVar(&uploadConflict, "conflict", "", "conflict policy: ask, skip, overwrite, rename, backup")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "enumerate and validate without storing")
	uploadCmd.Flags().BoolVar(&uploadInsecure, "insecure", false, "skip TLS certificate verification")
	_ = uploadCmd.MarkFlagRequired("project")
}

// inferSourceType maps a location's scheme onto a source type.
func inferSourceType(location string) string {
	switch {
	case strings.HasPrefix(location, "https://"):
		return "https"
	case strings.HasPrefix(location, "http://"):
		return "http"
	case strings.HasPrefix(location, "ftp://"):
		return "ftp"
	case strings.HasPrefix(location, "sftp://"):
		return "sftp"
	case strings.HasPrefix(location, "smb://"), strings.HasPrefix(location, `\\`):
		return "smb"
	default:
		return "local"
	}
}

// promptConflict asks the user how to resolve one filename collision.
func promptConflict(_ *project.Project, filename string) project.ConflictPolicy {
	prompt := promptui.Select{
		Label: fmt.Sprintf("File %q already exists", filename),
		Items: []string{"skip", "overwrite", "rename", "backup"},
	}
	_, choice, err := prompt.Run()
	if err != nil {
		return project.ConflictSkip
	}
	return project.ConflictPolicy(choice)
}

func runUpload(cmd *cobra.Command, args []string) error {
	location := args[0]

	typeName := uploadType
	if typeName == "" {
		typeName = inferSourceType(location)
	}
	srcType, err := source.ParseType(typeName)
	if err != nil {
		return err
	}

	a, err := newApp(promptConflict)
	if err != nil {
		return err
	}
	defer a.Close()

	a.uploads.Reporter().Listen(func(e upload.Event) {
		switch e.Type {
		case upload.EventUpdated:
			u := e.Update
			if u.CurrentFile != "" {
				cmd.Printf("  [%d/%d] %s (%s)\n",
					u.FilesProcessed, u.FilesTotal, u.CurrentFile,
					bytesize.ByteSize(u.BytesProcessed))
			}
		case upload.EventCompleted:
			if e.Summary != nil {
				cmd.Printf("Finished in %s: %s\n", e.Summary.Duration.Round(10*time.Millisecond), e.Summary.Message)
			}
		}
	})

	op, err := a.uploads.Run(cmd.Context(), upload.Request{
		Project: uploadProject,
		Source: source.Spec{
			Type:     srcType,
			Location: location,
			Credentials: source.Credentials{
				Username: uploadUsername,
				Password: uploadPassword,
				Token:    uploadToken,
				KeyPath:  uploadKeyPath,
			},
			InsecureTLS: uploadInsecure,
		},
		Recursive:       uploadRecursive,
		ExcludePatterns: uploadExclude,
		Conflict:        project.ConflictPolicy(uploadConflict),
		DryRun:          uploadDryRun,
	})
	if err != nil {
		return err
	}

	snap := op.Snapshot()
	cmd.Printf("Operation %s: %s\n", snap.ID, snap.Status)
	cmd.Printf("Files: %d processed, %d succeeded, %d skipped, %d failed\n",
		snap.FilesProcessed, snap.FilesSucceeded, snap.FilesSkipped, snap.FilesFailed)
	cmd.Printf("Bytes: %s\n", bytesize.ByteSize(snap.BytesProcessed))
	for _, w := range snap.Warnings {
		cmd.Printf("Warning: %s\n", w)
	}
	for _, e := range snap.Errors {
		cmd.Printf("Error: %s\n", e)
	}
	if snap.Status != upload.StatusComplete {
		return fmt.Errorf("upload %s", snap.Status)
	}
	return nil
}
