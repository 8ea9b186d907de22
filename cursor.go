package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propscout/propsync/internal/store"
)

func newCursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset the pull cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the saved pull cursor",
		Args:  cobra.NoArgs,
		RunE:  runCursorShow,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the pull cursor so the next pull starts from scratch",
		Long: `Forget the pull cursor so the next pull fetches every change again.

Local rows are not touched. Records are only overwritten by strictly newer
server versions, so a full re-pull is safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, cc *CLIContext, st *store.Store) error {
				if err := st.ResetCursor(ctx); err != nil {
					return err
				}

				cc.Statusf("Pull cursor reset\n")

				return nil
			})
		},
	})

	return cmd
}

// cursorOutput is the --json shape of the cursor.
type cursorOutput struct {
	Set    bool  `json:"set"`
	Cursor int64 `json:"cursor,omitempty"`
}

func runCursorShow(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, cc *CLIContext, st *store.Store) error {
		ts, ok, err := st.Cursor(ctx)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), cursorOutput{Set: ok, Cursor: ts})
		}

		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No pull cursor (next pull fetches everything)")
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d (%s)\n", ts, formatMillis(ts))

		return nil
	})
}
