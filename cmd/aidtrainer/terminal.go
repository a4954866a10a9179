package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/Strob0t/AIDTrainer/internal/domain/event"
	"github.com/Strob0t/AIDTrainer/internal/domain/run"
	"github.com/Strob0t/AIDTrainer/internal/port/broadcast"
)

// terminal renders the events of one run as a progress bar and log lines.
type terminal struct {
	p   *mpb.Progress
	bar *mpb.Bar

	mu       sync.Mutex
	finished bool
}

var _ broadcast.Broadcaster = (*terminal)(nil)

func newTerminal(w io.Writer, name string) *terminal {
	p := mpb.New(mpb.WithWidth(80), mpb.WithOutput(w))
	bar := p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
		),
	)
	return &terminal{p: p, bar: bar}
}

// BroadcastEvent implements broadcast.Broadcaster.
func (t *terminal) BroadcastEvent(ctx context.Context, ev *event.TrainingEvent) {
	switch ev.Type {
	case event.TypeProgress:
		var p event.ProgressPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			t.bar.SetCurrent(int64(math.Round(min(p.Percent, 100))))
		}
	case event.TypeMetrics:
		var m event.MetricsPayload
		if json.Unmarshal(ev.Payload, &m) == nil {
			slog.InfoContext(ctx, "epoch finished",
				"model", m.ModelPath,
				"epoch", m.Epoch,
				"metrics", formatMetrics(m.Metrics),
				"learning_rate", m.LearningRate,
				"saved", m.Saved,
			)
		}
	case event.TypeCheckpoint:
		var c run.CheckpointEvent
		if json.Unmarshal(ev.Payload, &c) == nil {
			slog.InfoContext(ctx, "checkpoint written", "path", c.Path, "epoch", c.Epoch, "reason", c.Reason)
		}
	case event.TypeNotice:
		var n event.NoticePayload
		if json.Unmarshal(ev.Payload, &n) == nil {
			level := slog.LevelInfo
			if n.Level == event.LevelWarn {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, n.Message)
		}
	case event.TypeError:
		var e event.ErrorPayload
		if json.Unmarshal(ev.Payload, &e) == nil {
			slog.ErrorContext(ctx, "training error", "category", e.Category, "model", e.ModelPath, "epoch", e.Epoch, "error", e.Message)
		}
	case event.TypeRunFinished:
		t.finish()
	}
}

// finish releases the progress bar. A run that ended early leaves the bar
// where it stopped.
func (t *terminal) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	if !t.bar.Completed() {
		t.bar.Abort(false)
	}
}

// Wait blocks until the progress output is flushed.
func (t *terminal) Wait() {
	t.finish()
	t.p.Wait()
}

func formatMetrics(m map[string]float64) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%.4f", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// printSummary renders the outcome of a run as a table.
func printSummary(w io.Writer, out *run.Outcome) {
	fmt.Fprintf(w, "run %s: %s after %d epochs", out.RunID, out.State, out.Epochs)
	if out.Interrupted {
		fmt.Fprint(w, " (stopped early)")
	}
	if out.Fallback {
		fmt.Fprint(w, " (fallback storage used)")
	}
	fmt.Fprintln(w)
	if out.Error != "" {
		fmt.Fprintf(w, "error: %s\n", out.Error)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Model", "Epochs", "Records", "Checkpoints", "Last checkpoint", "Error"})
	for _, m := range out.Members {
		last := "-"
		if n := len(m.Checkpoints); n > 0 {
			last = fmt.Sprintf("%s (epoch %d)", m.Checkpoints[n-1].Path, m.Checkpoints[n-1].Epoch)
		}
		errMsg := m.Error
		if m.FailedAt > 0 {
			errMsg = fmt.Sprintf("epoch %d: %s", m.FailedAt, m.Error)
		}
		tw.AppendRow(table.Row{m.ModelPath, m.Epochs, formatMetrics(m.Records), len(m.Checkpoints), last, errMsg})
	}
	tw.Render()
}
