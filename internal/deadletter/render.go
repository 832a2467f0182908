package deadletter

import (
	"fmt"
	"strings"
	"time"
)

// Title is the one-line summary of r.
func Title(r Report) string {
	return fmt.Sprintf("Dead-letter report %s: %d failed job(s)", r.GeneratedAt.Format(time.DateOnly), len(r.Entries))
}

// Markdown renders r as a table with one row per dead letter.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report `%s` generated %s.\n\n", r.ID, r.GeneratedAt.Format(time.RFC3339))
	if r.Depth >= 0 {
		fmt.Fprintf(&b, "Queue depth before draining: %d. Drained: %d.\n\n", r.Depth, len(r.Entries))
	} else {
		fmt.Fprintf(&b, "Drained: %d.\n\n", len(r.Entries))
	}
	b.WriteString("| Job number | Receives | Enqueued | Failed | Stage | Kind | Last error |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s | %s |\n",
			cell(e.JobNumber),
			e.RetryCount,
			cellTime(e.EnqueuedAt),
			cellTime(e.FailedAt),
			cell(e.Diagnosis.Stage),
			cell(e.Diagnosis.Kind),
			cell(e.LastError))
	}
	return b.String()
}

func cellTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > 200 {
		s = string([]rune(s)[:200]) + "…"
	}
	return s
}
