package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/miyabi-dev/miyabi/internal/config"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/platform"
	"github.com/miyabi-dev/miyabi/internal/scanner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "Scan for TODO/FIXME markers and optionally file them as issues",
	Long: `Walks the project tree looking for TODO/FIXME comments, the
same way 'init' scans for project metadata, and reports them. With
--create-issues and --repo, each marker becomes a tracked GitHub issue
instead of just being printed.

Example:
  miyabi todos
  miyabi todos --repo org/myapp --create-issues`,
	RunE: runTodos,
}

func init() {
	rootCmd.AddCommand(todosCmd)

	todosCmd.Flags().String("path", ".", "root directory to scan")
	todosCmd.Flags().String("repo", "", "owner/repo to file issues against (required with --create-issues)")
	todosCmd.Flags().Bool("create-issues", false, "file a GitHub issue for every marker found")
	todosCmd.Flags().Bool("dry-run", false, "report what would be filed without creating issues")
}

func runTodos(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	path, _ := cmd.Flags().GetString("path")
	repoFlag, _ := cmd.Flags().GetString("repo")
	createIssues, _ := cmd.Flags().GetBool("create-issues")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	markers, err := scanner.New(path).ScanTodos()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeInternal, err, "scanning for TODO/FIXME markers"))
	}

	if !createIssues {
		return reportTodos(markers)
	}

	owner, repo, ok := strings.Cut(repoFlag, "/")
	if !ok {
		return emitErr(errs.New(errs.CodeValidation, "--repo must be owner/repo, got %q", repoFlag))
	}

	cfg, err := config.Load()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeConfig, err, "loading configuration"))
	}
	token, err := resolveToken(ctx, cfg)
	if err != nil {
		return emitErr(errs.AsError(err))
	}
	gw := platform.NewGHGateway(token)

	filed := make([]int, 0, len(markers))
	for _, m := range markers {
		title := fmt.Sprintf("%s: %s:%d", m.Marker, m.File, m.Line)
		body := fmt.Sprintf("Found by `miyabi todos` scanning %s.\n\n%s", m.File, m.Message)
		if dryRun {
			fmt.Printf("would file: %s\n", title)
			continue
		}
		number, err := gw.CreateIssue(ctx, owner, repo, title, body, []string{"source:todo-scan"})
		if err != nil {
			return emitErr(errs.AsError(err))
		}
		filed = append(filed, number)
	}

	if viper.GetBool("json") {
		env := errs.Success(map[string]any{"markers": markers, "filed": filed}, fmt.Sprintf("%d marker(s), %d issue(s) filed", len(markers), len(filed)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	fmt.Printf("%d marker(s) found, %d issue(s) filed.\n", len(markers), len(filed))
	return nil
}

func reportTodos(markers []scanner.TodoMarker) error {
	if viper.GetBool("json") {
		env := errs.Success(markers, fmt.Sprintf("%d marker(s) found", len(markers)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	if len(markers) == 0 {
		fmt.Println("No TODO/FIXME markers found.")
		return nil
	}
	for _, m := range markers {
		fmt.Printf("%s:%d: %s %s\n", m.File, m.Line, m.Marker, m.Message)
	}
	fmt.Printf("\n%d marker(s) found.\n", len(markers))
	return nil
}
