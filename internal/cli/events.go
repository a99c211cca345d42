package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/events"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the local agent event log",
	Long: `Reads .miyabi/events/events.jsonl — the JSONL event stream every
dispatched agent session appends to — and prints it filtered by task
and/or event type.

Example:
  miyabi events
  miyabi events --session 42-1 --type tool_use,command`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("session", "", "filter to a single dag.Task ID (e.g. \"42-1\")")
	eventsCmd.Flags().StringSlice("type", nil, "filter to one or more event types (text, thinking, tool_use, tool_result, command, file_change, error)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeInternal, err, "resolving working directory"))
	}

	sessionID, _ := cmd.Flags().GetString("session")
	typeFlags, _ := cmd.Flags().GetStringSlice("type")

	path := filepath.Join(cwd, ".miyabi", "events", events.DefaultFilename)
	all, err := events.ReadEvents(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No events recorded yet.")
			return nil
		}
		return emitErr(errs.Wrap(errs.CodeInternal, err, "reading %s", path))
	}

	filtered := events.FilterBySession(all, sessionID)
	if len(typeFlags) > 0 {
		types := make([]events.EventType, len(typeFlags))
		for i, t := range typeFlags {
			types[i] = events.EventType(t)
		}
		filtered = events.FilterByType(filtered, types...)
	}

	if viper.GetBool("json") {
		env := errs.Success(filtered, fmt.Sprintf("%d event(s)", len(filtered)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	for _, e := range filtered {
		fmt.Printf("%s [%s] %s/%s: %s\n", e.Timestamp.Format("15:04:05"), e.SessionID, e.Adapter, e.Type, e.Summary)
	}
	fmt.Printf("\n%d event(s).\n", len(filtered))
	return nil
}
