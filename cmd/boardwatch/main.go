// boardwatch follows a scholarship batch from the terminal. It long-polls the
// board API and prints a line whenever approvals, the batch status, or the set
// of members viewing the batch changes. It exits once the batch is
// distributed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/adapters/pollclient"
	httptransport "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var baseURL string
	var token string
	var batchID int64
	var wait time.Duration
	var verbose bool

	flagSet := pflag.NewFlagSet("boardwatch", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "http://localhost:8080/api/board/v1", "board API base URL")
	flagSet.StringVar(&token, "token", os.Getenv("BOARD_TOKEN"), "bearer token (default: $BOARD_TOKEN)")
	flagSet.Int64Var(&batchID, "batch", 0, "batch id to follow (default: the pending batch)")
	flagSet.DurationVar(&wait, "wait", pollclient.DefaultWait, "how long the server may hold each poll")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log poll retries to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("a bearer token is required (--token or BOARD_TOKEN)")
	}

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := pollclient.Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{},
		Wait:       wait,
		Logger:     logger,
	}

	if batchID == 0 {
		view, err := client.CurrentBatch(ctx)
		if err != nil {
			return fmt.Errorf("look up pending batch: %w", err)
		}
		if !view.HasPendingBatch || view.Batch == nil {
			fmt.Fprintln(out, "no pending batch")
			return nil
		}
		batchID = view.Batch.BatchID
	}

	fmt.Fprintf(out, "following batch %d\n", batchID)
	return client.Watch(ctx, batchID, func(resp httptransport.PollResponse) {
		fmt.Fprintln(out, formatUpdate(resp, time.Now()))
	})
}

func formatUpdate(resp httptransport.PollResponse, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", now.Format(time.TimeOnly))
	if resp.Batch != nil {
		fmt.Fprintf(&b, " batch %d %s, approvals %d/%d",
			resp.Batch.BatchID, resp.Batch.Status, resp.Batch.ApprovalCount, resp.Batch.RequiredApprovals)
		if resp.Batch.CanExecute {
			b.WriteString(", ready to execute")
		}
	}
	if len(resp.Approvals) > 0 {
		names := make([]string, 0, len(resp.Approvals))
		for _, approval := range resp.Approvals {
			names = append(names, displayName(approval.MemberName, approval.MemberID))
		}
		fmt.Fprintf(&b, "; approved by %s", strings.Join(names, ", "))
	}
	if len(resp.ActiveMembers) > 0 {
		names := make([]string, 0, len(resp.ActiveMembers))
		for _, member := range resp.ActiveMembers {
			names = append(names, displayName(member.DisplayName, member.MemberID))
		}
		fmt.Fprintf(&b, "; watching: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func displayName(name string, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `boardwatch follows a scholarship distribution batch.

Without --batch it looks up the pending batch first. Each change in status,
approvals or active members prints one line. The command exits when the
batch is distributed.

Usage:
  boardwatch [flags]

Flags:
%s`, flagSet.FlagUsages())
}
