package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"beadboard/internal/client"
	"beadboard/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// bbtail is a terminal viewer for the sync protocol: it opens one
// subscription and re-prints the ordered list every time an envelope
// lands. Useful for watching a board change while someone else runs bd.

var (
	serverURL string
	queryType string
	rawParams []string
)

var rootCmd = &cobra.Command{
	Use:   "bbtail",
	Short: "Tail a live beadboard subscription",
	Long: `Connect to a beadboard server, open one subscription, and print the
ordered issue list every time the server pushes a change.

Examples:
  bbtail                                  # all issues
  bbtail --query issues --param status=open
  bbtail --query epic_children --param parent=bb-42`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "url", "ws://localhost:8080/ws/sync", "sync websocket URL")
	rootCmd.Flags().StringVar(&queryType, "query", "issues", "query type")
	rootCmd.Flags().StringArrayVar(&rawParams, "param", nil, "query parameter as name=value (repeatable)")
}

func run(cmd *cobra.Command, args []string) error {
	params := make(map[string]any)
	for _, raw := range rawParams {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("malformed --param %q (want name=value)", raw)
		}
		params[name] = value
	}
	spec := models.SubscriptionSpec{Type: queryType, Params: params}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, serverURL)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	subID := "tail:" + uuid.NewString()
	store := c.Stores().Register(subID, &spec)
	store.Subscribe(func() { render(store) })

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	key, err := c.Subscribe(ctx, subID, spec)
	cancel()
	if err != nil {
		return err
	}
	log.Printf("✓ Subscribed to %s", key)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.Unsubscribe(ctx, subID)
	return nil
}

func render(store *client.IssueStore) {
	issues := store.Snapshot()
	fmt.Printf("\n── %d issues (rev %d) ──\n", len(issues), store.LastRevision())
	for _, issue := range issues {
		closed := ""
		if issue.ClosedAt != nil {
			closed = " ✕"
		}
		fmt.Printf("  P%d %-12s %-14s %s%s\n",
			issue.Priority, issue.ID, issue.Status, issue.Title, closed)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
