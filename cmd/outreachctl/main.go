// Command outreachctl drives the outbound sales engagement engine's
// batch operations: draining per-channel queues, sweeping due
// reminders, reconciling bounces and inbound replies, and reclaiming
// stale leases. Uses cobra.Command per subcommand with signal-aware
// RunE bodies, generalized from listmonk's single `sendCampaigns`
// bootstrap into one subcommand per spec.md §6 operation.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outreachforge/engine/internal/app"
	"github.com/outreachforge/engine/internal/config"
	"github.com/outreachforge/engine/internal/webhook"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "outreachctl",
		Short: "Operate the outbound sales engagement engine",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file (optional; env vars always apply)")
	root.PersistentFlags().String("database.dsn", "", "Postgres DSN (overrides config file and env)")

	root.AddCommand(
		processQueuesCmd(),
		sendRemindersCmd(),
		reclaimStaleLeasesCmd(),
		processBouncesCmd(),
		processInboundEmailCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildApp loads config — layering defaults, config file, environment,
// and finally any flags set on cmd — and wires a full App for one CLI
// invocation. credentialSource must be supplied by a
// deployment-specific build; this bundled CLI has no concrete one
// (spec.md §1 Non-goals: credential storage), so it is left nil here
// and callers embedding this command in their own binary should
// replace this function.
func buildApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg, nil, nil)
}

func withSignalContext(run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx)
}

func processQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-queues",
		Short: "Run one poller sweep over every active company and channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignalContext(func(ctx context.Context) error {
				a, err := buildApp(ctx, cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.ProcessQueues(ctx)
			})
		},
	}
}

func sendRemindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-reminders",
		Short: "Sweep for due reminder-stage sends and enqueue them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignalContext(func(ctx context.Context) error {
				a, err := buildApp(ctx, cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.SendReminders(ctx)
			})
		},
	}
}

func reclaimStaleLeasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim-stale-leases",
		Short: "Return processing items past their lease expiry to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignalContext(func(ctx context.Context) error {
				a, err := buildApp(ctx, cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				n, err := a.ReclaimStaleLeases(ctx)
				if err != nil {
					return err
				}
				a.Log.Infow("reclaimed stale leases", "count", n)
				return nil
			})
		},
	}
}

// webhookEnvelope is one line of the newline-delimited JSON batch
// process-bounces/process-inbound-email read from stdin — the format a
// deployment's own webhook receiver is expected to translate a
// provider's payload into before invoking this binary (or calling
// App.IngestWebhook directly in-process).
type webhookEnvelope struct {
	Provider  string `json:"provider"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CompanyID int64  `json:"company_id"`
	LogID     int64  `json:"log_id"`
	LeadID    int64  `json:"lead_id"`
	Signature string `json:"signature"`

	CallDurationSeconds int    `json:"call_duration_seconds"`
	CallSentiment       string `json:"call_sentiment"`
	CallSummary         string `json:"call_summary"`
	CallTranscript      string `json:"call_transcript"`
	CallRecordingURL    string `json:"call_recording_url"`
}

// ingestNDJSON reads one webhookEnvelope per line from r and ingests
// each through a, rejecting event types outside allowedTypes. A line
// that fails to parse or ingest is logged and counted rather than
// aborting the batch, so one bad event doesn't block the rest; the
// command exits non-zero only if at least one line failed.
func ingestNDJSON(ctx context.Context, a *app.App, r io.Reader, allowedTypes map[string]bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var failed int
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env webhookEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			a.Log.Errorw("webhook batch: malformed line", "error", err)
			failed++
			continue
		}
		if !allowedTypes[env.Type] {
			a.Log.Warnw("webhook batch: event type not accepted by this subcommand", "type", env.Type)
			failed++
			continue
		}

		ev := webhook.Event{
			Provider:            env.Provider,
			EventID:             env.EventID,
			Type:                env.Type,
			CompanyID:           env.CompanyID,
			LogID:               env.LogID,
			LeadID:              env.LeadID,
			CallDurationSeconds: env.CallDurationSeconds,
			CallSentiment:       env.CallSentiment,
			CallSummary:         env.CallSummary,
			CallTranscript:      env.CallTranscript,
			CallRecordingURL:    env.CallRecordingURL,
		}
		if err := a.IngestWebhook(ctx, ev, append([]byte(nil), line...), env.Signature); err != nil {
			a.Log.Errorw("webhook batch: ingest failed", "event_id", env.EventID, "error", err)
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read webhook batch: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("webhook batch: %d event(s) failed", failed)
	}
	return nil
}

func processBouncesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-bounces",
		Short: "Ingest a newline-delimited JSON batch of bounce webhook events from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignalContext(func(ctx context.Context) error {
				a, err := buildApp(ctx, cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				return ingestNDJSON(ctx, a, cmd.InOrStdin(), map[string]bool{"bounce": true})
			})
		},
	}
}

func processInboundEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-inbound-email",
		Short: "Ingest a newline-delimited JSON batch of reply/open webhook events from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignalContext(func(ctx context.Context) error {
				a, err := buildApp(ctx, cmd)
				if err != nil {
					return err
				}
				defer a.Close()
				return ingestNDJSON(ctx, a, cmd.InOrStdin(), map[string]bool{"reply": true, "open": true, "linkedin_reply": true})
			})
		},
	}
}
