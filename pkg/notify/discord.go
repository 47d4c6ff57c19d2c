// Package notify delivers end-of-run reports. The shipped implementation
// posts a Discord webhook embed; LogNotifier is the dry-run fallback.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/boxsync/boxsync/internal/utils"
	"github.com/boxsync/boxsync/pkg/batch"
)

const (
	colorGreen  = 0x00ff00
	colorRed    = 0xff0000
	colorOrange = 0xffaa00

	// Discord caps embed descriptions at 4096 chars; stay well under.
	maxFailureLines = 15
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Discord posts run reports to a webhook URL.
type Discord struct {
	WebhookURL string
	client     *retryablehttp.Client
}

func NewDiscord(webhookURL string) *Discord {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = 3
	retryClient.HTTPClient.Timeout = 10 * time.Second
	return &Discord{WebhookURL: webhookURL, client: retryClient}
}

func (d *Discord) Notify(ctx context.Context, report *batch.Report) error {
	payload, err := json.Marshal(webhookPayload{Embeds: []embed{buildEmbed(report)}})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", d.WebhookURL, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting discord webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

func buildEmbed(report *batch.Report) embed {
	failures := report.Failures()
	counts := report.ByOutcome()

	e := embed{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	e.Footer.Text = "NCAA Basketball Scraper"

	switch {
	case len(failures) == 0:
		e.Title = "✅ Scrape Run Succeeded"
		e.Color = colorGreen
	case len(failures) == len(report.Results):
		e.Title = "🚨 Scrape Run Failed"
		e.Color = colorRed
	default:
		e.Title = "⚠️ Scrape Run Partially Failed"
		e.Color = colorOrange
	}

	e.Description = fmt.Sprintf("%d targets processed in %s", len(report.Results), report.Duration().Round(time.Second))

	e.Fields = append(e.Fields,
		embedField{Name: "📅 Started", Value: report.StartedAt.Format("2006-01-02 15:04 UTC"), Inline: true},
		embedField{Name: "📊 Outcomes", Value: formatCounts(counts), Inline: true},
	)

	if len(failures) > 0 {
		e.Fields = append(e.Fields, embedField{Name: "🚨 Failures", Value: formatFailures(failures)})
	}
	return e
}

func formatCounts(counts map[batch.Outcome]int) string {
	order := []batch.Outcome{
		batch.OutcomeUploaded, batch.OutcomeUpdated, batch.OutcomeSkipped,
		batch.OutcomePrecheckSkipped, batch.OutcomeNoGames, batch.OutcomeLocalOnly,
		batch.OutcomeCancelled, batch.OutcomeSessionFailed, batch.OutcomeExtractFailed,
		batch.OutcomeWriteFailed, batch.OutcomeReconcileFailed,
	}
	var lines []string
	for _, o := range order {
		if n := counts[o]; n > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", o, n))
		}
	}
	if len(lines) == 0 {
		return "none"
	}
	return strings.Join(lines, "\n")
}

func formatFailures(failures []batch.TargetResult) string {
	var lines []string
	for i, f := range failures {
		if i == maxFailureLines {
			lines = append(lines, fmt.Sprintf("... and %d more", len(failures)-i))
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%v)", f.Target, f.Outcome, f.Err))
	}
	return strings.Join(lines, "\n")
}

// LogNotifier writes the report to the log instead of posting anywhere.
// Used when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, report *batch.Report) error {
	utils.Log.Infof("Run report: %d targets, %d failed, took %s",
		len(report.Results), len(report.Failures()), report.Duration().Round(time.Second))
	for _, f := range report.Failures() {
		utils.Log.Warnf("  %s: %s (%v)", f.Target, f.Outcome, f.Err)
	}
	return nil
}

var (
	_ batch.Notifier = (*Discord)(nil)
	_ batch.Notifier = LogNotifier{}
)
