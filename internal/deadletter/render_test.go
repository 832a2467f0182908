package deadletter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/hellowork-crawler/internal/queue"
)

func TestMarkdownRendersOneRowPerEntry(t *testing.T) {
	t.Parallel()

	r := Report{
		ID:          "report-1",
		GeneratedAt: reportTime,
		Depth:       2,
		Entries: []Entry{
			{
				DeadLetter: queue.DeadLetter{
					JobNumber:  "13010-00000001",
					RetryCount: 3,
					EnqueuedAt: time.Date(2024, time.May, 6, 3, 0, 0, 0, time.UTC),
					LastError:  "stage=loading kind=load_store: a|b",
				},
				Diagnosis: Diagnosis{Stage: "loading", Kind: "load_store"},
			},
			{DeadLetter: queue.DeadLetter{RetryCount: 3}},
		},
	}

	md := Markdown(r)
	assert.Contains(t, md, "`report-1`")
	assert.Contains(t, md, "Queue depth before draining: 2. Drained: 2.")
	assert.Contains(t, md, "| 13010-00000001 | 3 | 2024-05-06T03:00:00Z | - | loading | load_store | stage=loading kind=load_store: a\\|b |")
	assert.Contains(t, md, "| - | 3 | - | - | - | - | - |")
	assert.Equal(t, 4, strings.Count(md, "\n|"))

	assert.Equal(t, "Dead-letter report 2024-05-06: 2 failed job(s)", Title(r))

	r.Depth = queue.DepthUnknown
	assert.NotContains(t, Markdown(r), "Queue depth")
}
