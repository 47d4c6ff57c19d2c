package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boxsync/boxsync/pkg/batch"
	"github.com/boxsync/boxsync/pkg/target"
)

func sampleReport() *batch.Report {
	t1 := target.Target{Division: target.DivisionOne, Gender: target.Men,
		Date: target.Date{Year: 2025, Month: time.February, Day: 14}}
	t2 := target.Target{Division: target.DivisionOne, Gender: target.Women,
		Date: target.Date{Year: 2025, Month: time.February, Day: 14}}

	start := time.Date(2025, 2, 15, 6, 0, 0, 0, time.UTC)
	return &batch.Report{
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Minute),
		Results: []batch.TargetResult{
			{Target: t1, Outcome: batch.OutcomeUploaded, Rows: 120},
			{Target: t2, Outcome: batch.OutcomeExtractFailed, Err: errors.New("boxscore never appeared")},
		},
	}
}

func TestDiscordPostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("payload is not json: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d := NewDiscord(srv.URL)
	if err := d.Notify(context.Background(), sampleReport()); err != nil {
		t.Fatal(err)
	}

	if len(got.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(got.Embeds))
	}
	e := got.Embeds[0]
	if !strings.Contains(e.Title, "Partially Failed") {
		t.Fatalf("unexpected title %q", e.Title)
	}
	if e.Color != colorOrange {
		t.Fatalf("expected orange for partial failure, got %#x", e.Color)
	}

	var failureField string
	for _, f := range e.Fields {
		if strings.Contains(f.Name, "Failures") {
			failureField = f.Value
		}
	}
	if !strings.Contains(failureField, "extract-failed") {
		t.Fatalf("failure field missing outcome: %q", failureField)
	}
	if !strings.Contains(failureField, "boxscore never appeared") {
		t.Fatalf("failure field missing error: %q", failureField)
	}
}

func TestDiscordEmbedColors(t *testing.T) {
	report := sampleReport()

	report.Results[1].Outcome = batch.OutcomeSkipped
	report.Results[1].Err = nil
	if e := buildEmbed(report); e.Color != colorGreen {
		t.Fatalf("clean run should be green, got %#x", e.Color)
	}

	report.Results[0].Outcome = batch.OutcomeSessionFailed
	report.Results[1].Outcome = batch.OutcomeReconcileFailed
	if e := buildEmbed(report); e.Color != colorRed {
		t.Fatalf("total failure should be red, got %#x", e.Color)
	}
}

func TestDiscordTruncatesFailureList(t *testing.T) {
	report := &batch.Report{StartedAt: time.Now(), FinishedAt: time.Now()}
	date := target.Date{Year: 2025, Month: time.February, Day: 14}
	for i := 0; i < maxFailureLines+5; i++ {
		report.Results = append(report.Results, batch.TargetResult{
			Target:  target.Target{Division: target.DivisionOne, Gender: target.Men, Date: date},
			Outcome: batch.OutcomeSessionFailed,
			Err:     errors.New("no chrome"),
		})
	}

	e := buildEmbed(report)
	var failureField string
	for _, f := range e.Fields {
		if strings.Contains(f.Name, "Failures") {
			failureField = f.Value
		}
	}
	if !strings.Contains(failureField, "and 5 more") {
		t.Fatalf("long failure list was not truncated: %q", failureField)
	}
	if lines := strings.Count(failureField, "\n") + 1; lines != maxFailureLines+1 {
		t.Fatalf("expected %d lines, got %d", maxFailureLines+1, lines)
	}
}

func TestDiscordErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid webhook"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	d := NewDiscord(srv.URL)
	if err := d.Notify(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected an error for a rejected webhook")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), sampleReport()); err != nil {
		t.Fatal(err)
	}
}
