package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-fcm-legacy/pkg/fcm"
)

type sendOptions struct {
	apiKey   string
	endpoint string
	timeout  time.Duration
	verbose  bool

	tokens            []string
	title             string
	body              string
	sound             string
	data              map[string]string
	collapseKey       string
	priority          string
	ttl               int
	dryRun            bool
	delayWhileIdle    bool
	restrictedPackage string
}

func newRootCmd() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "fcmsend",
		Short: "Send a message through the legacy FCM HTTP API",
		Long: `fcmsend builds a legacy FCM message from flags, posts it with the
server key and prints the multicast id, the counters and every
recipient's result, matched to the registration id it was sent to.

The server key is read from --api-key or FCM_API_KEY.`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ttlSet := cmd.Flags().Changed("ttl")
			return runSend(cmd, opts, ttlSet)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.apiKey, "api-key", "", "FCM server key (falls back to $FCM_API_KEY)")
	f.StringVar(&opts.endpoint, "endpoint", fcm.ServerURI, "Legacy send endpoint")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP timeout")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log the request to stderr")

	f.StringArrayVarP(&opts.tokens, "token", "t", nil, "Registration id (repeatable)")
	f.StringVar(&opts.title, "title", "", "Notification title")
	f.StringVar(&opts.body, "body", "", "Notification body")
	f.StringVar(&opts.sound, "sound", "", "Notification sound")
	f.StringToStringVar(&opts.data, "data", nil, "Data payload entry key=value (repeatable)")
	f.StringVar(&opts.collapseKey, "collapse-key", "", "Collapse key")
	f.StringVar(&opts.priority, "priority", "", "Priority: normal or high")
	f.IntVar(&opts.ttl, "ttl", 0, "Time to live in seconds (server default when unset)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Validate on the server without delivering")
	f.BoolVar(&opts.delayWhileIdle, "delay-while-idle", false, "Hold the message until the device is active")
	f.StringVar(&opts.restrictedPackage, "restricted-package", "", "Only deliver to this Android package")

	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions, ttlSet bool) error {
	// The env fallback is resolved here, not as the flag default, so the key
	// never shows up in --help.
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("FCM_API_KEY")
	}
	if opts.apiKey == "" {
		return errors.New("no server key: pass --api-key or set FCM_API_KEY")
	}

	msg, err := buildMessage(opts, ttlSet)
	if err != nil {
		return err
	}

	logger := slog.New(slog.DiscardHandler)
	if opts.verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	client, err := fcm.NewClient(opts.apiKey,
		fcm.WithEndpoint(opts.endpoint),
		fcm.WithHTTPClient(&http.Client{Timeout: opts.timeout}),
		fcm.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	resp, err := client.Send(cmd.Context(), msg)
	if err != nil {
		var fcmErr *fcm.Error
		if errors.As(err, &fcmErr) && fcmErr.RetryAfter != "" {
			return fmt.Errorf("%w (retry after %s)", err, fcmErr.RetryAfter)
		}
		return err
	}

	return writeReport(cmd.OutOrStdout(), resp)
}

func buildMessage(opts *sendOptions, ttlSet bool) (*fcm.Message, error) {
	msg := fcm.NewMessage()
	if err := msg.SetRegistrationIDs(opts.tokens); err != nil {
		return nil, err
	}

	notification := map[string]any{}
	for key, value := range map[string]string{"title": opts.title, "body": opts.body, "sound": opts.sound} {
		if value != "" {
			notification[key] = value
		}
	}
	if len(notification) > 0 {
		if err := msg.SetNotification(notification); err != nil {
			return nil, err
		}
	}

	if len(opts.data) > 0 {
		data := make(map[string]any, len(opts.data))
		for k, v := range opts.data {
			data[k] = v
		}
		if err := msg.SetData(data); err != nil {
			return nil, err
		}
	}

	if opts.collapseKey != "" {
		if err := msg.SetCollapseKey(opts.collapseKey); err != nil {
			return nil, err
		}
	}
	switch p := fcm.Priority(opts.priority); p {
	case "":
	case fcm.PriorityNormal, fcm.PriorityHigh:
		if err := msg.SetPriority(p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("--priority must be %q or %q, got %q", fcm.PriorityNormal, fcm.PriorityHigh, p)
	}
	if opts.restrictedPackage != "" {
		if err := msg.SetRestrictedPackageName(opts.restrictedPackage); err != nil {
			return nil, err
		}
	}
	if ttlSet {
		msg.SetTimeToLive(opts.ttl)
	}
	msg.SetDryRun(opts.dryRun).SetDelayWhileIdle(opts.delayWhileIdle)

	return msg, nil
}

type recipientReport struct {
	To             string `json:"to"`
	Matched        bool   `json:"matched"`
	MessageID      string `json:"message_id,omitempty"`
	Error          string `json:"error,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

type sendReport struct {
	MulticastID  int64             `json:"multicast_id"`
	Success      int               `json:"success"`
	Failure      int               `json:"failure"`
	CanonicalIDs int               `json:"canonical_ids"`
	Results      []recipientReport `json:"results"`
}

func writeReport(w io.Writer, resp *fcm.Response) error {
	report := sendReport{
		MulticastID:  resp.MulticastID(),
		Success:      resp.SuccessCount(),
		Failure:      resp.FailureCount(),
		CanonicalIDs: resp.CanonicalCount(),
		Results:      make([]recipientReport, 0),
	}
	for _, c := range resp.Correlations() {
		report.Results = append(report.Results, recipientReport{
			To:             c.Key,
			Matched:        c.Matched,
			MessageID:      c.Result.MessageID,
			Error:          c.Result.Error,
			RegistrationID: c.Result.RegistrationID,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
