package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/propscout/propsync/internal/store"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the outbound mutation queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueDropCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued local writes in push order",
		Long: `List queued local writes in the order they will be pushed.

Items whose attempts reached max_retry_attempts are dead-lettered: they stay
in the queue but are skipped by push until retried or dropped.`,
		Args: cobra.NoArgs,
		RunE: runQueueList,
	}

	cmd.Flags().Bool("dead", false, "show only dead-lettered items")

	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset the attempt counter of a queued item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cc *CLIContext, st *store.Store) error {
				if err := st.ResetAttempts(ctx, args[0]); err != nil {
					return err
				}

				cc.Statusf("Item %s returned to the live queue\n", args[0])

				return nil
			})
		},
	}
}

func newQueueDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <id>",
		Short: "Discard a queued item without pushing it",
		Long: `Discard a queued item without pushing it.

The local row keeps the dropped write; it will be overwritten by the next
strictly newer server change for the same record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cc *CLIContext, st *store.Store) error {
				if err := st.DropMutation(ctx, args[0]); err != nil {
					return err
				}

				cc.Statusf("Item %s dropped\n", args[0])

				return nil
			})
		},
	}
}

// withStore opens the configured database for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, st *store.Store) error) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, cc, st)
}

// queueItem is the --json shape of one queue entry.
type queueItem struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Table     string `json:"table"`
	RecordID  string `json:"record_id"`
	CreatedAt int64  `json:"created_at"`
	Attempts  int    `json:"attempts"`
	Dead      bool   `json:"dead"`
	LastError string `json:"last_error,omitempty"`
}

func newQueueItem(m *store.Mutation, maxAttempts int) queueItem {
	item := queueItem{
		ID:        m.ID,
		Action:    string(m.Action),
		Table:     string(m.Table),
		RecordID:  m.RecordID,
		CreatedAt: m.CreatedAt,
		Attempts:  m.Attempts,
		Dead:      m.Attempts >= maxAttempts,
		LastError: m.LastError,
	}

	if m.PayloadErr != nil && item.LastError == "" {
		item.LastError = m.PayloadErr.Error()
	}

	return item
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	deadOnly, err := cmd.Flags().GetBool("dead")
	if err != nil {
		return err
	}

	return withStore(cmd, func(ctx context.Context, cc *CLIContext, st *store.Store) error {
		maxAttempts := cc.Cfg.MaxRetryAttempts

		var items []*store.Mutation
		if deadOnly {
			items, err = st.DeadLetters(ctx, maxAttempts)
		} else {
			items, err = st.PendingMutations(ctx)
		}

		if err != nil {
			return err
		}

		out := make([]queueItem, 0, len(items))
		for _, m := range items {
			out = append(out, newQueueItem(m, maxAttempts))
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), out)
		}

		if len(out) == 0 {
			cc.Statusf("Queue is empty\n")
			return nil
		}

		printQueueTable(cmd.OutOrStdout(), out, maxAttempts)

		return nil
	})
}

func printQueueTable(w io.Writer, items []queueItem, maxAttempts int) {
	headers := []string{"ID", "ACTION", "TABLE", "RECORD", "ATTEMPTS", "CREATED", "LAST ERROR"}
	rows := make([][]string, 0, len(items))

	dead := 0

	for _, it := range items {
		attempts := strconv.Itoa(it.Attempts) + "/" + strconv.Itoa(maxAttempts)
		if it.Dead {
			attempts += " dead"
			dead++
		}

		lastErr := it.LastError
		if lastErr == "" {
			lastErr = "-"
		}

		rows = append(rows, []string{
			it.ID, it.Action, it.Table, it.RecordID, attempts,
			formatMillis(it.CreatedAt), truncate(lastErr, maxCellWidth),
		})
	}

	printTable(w, headers, rows)
	fmt.Fprintf(w, "\n%d item(s), %d dead-lettered\n", len(items), dead)
}
