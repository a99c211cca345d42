package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/worktree"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List active agent worktrees",
	Long: `Report every agent worktree currently checked out under
.worktrees/, reading ground truth from 'git worktree list' rather than
any in-memory session state, so it works from a freshly started process.

Example:
  miyabi status
  miyabi status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cwd, err := os.Getwd()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeInternal, err, "resolving working directory"))
	}

	m := worktree.NewManager(cwd)
	infos, err := m.ListFromGit(ctx)
	if err != nil {
		return emitErr(errs.AsError(err))
	}

	if viper.GetBool("json") {
		env := errs.Success(infos, fmt.Sprintf("%d worktree(s)", len(infos)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	if len(infos) == 0 {
		fmt.Println("No agent worktrees found.")
		return nil
	}

	fmt.Printf("%-12s %-8s %-30s %s\n", "AGENT", "ISSUE", "BRANCH", "PATH")
	fmt.Println(strings.Repeat("-", 80))
	for _, info := range infos {
		fmt.Printf("%-12s %-8d %-30s %s\n", info.AgentKind, info.Item, info.Branch, info.Path)
	}
	fmt.Printf("\n%d worktree(s) found.\n", len(infos))
	return nil
}

// emitErr prints err as a JSON failure envelope when --json is set,
// otherwise as plain text, and returns it so cobra exits non-zero with
// the taxonomy's stable exit code.
func emitErr(err *errs.Error) error {
	if err == nil {
		return nil
	}
	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(errs.Failure(err))
	}
	return err
}
