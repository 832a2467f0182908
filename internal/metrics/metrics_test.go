package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if listingPagesTotal == nil || etlRunsTotal == nil || deadLetterDepth == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveListingPage(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobNumbersDiscoveredTotal)
	ObserveListingPage("https://www.hellowork.mhlw.go.jp/kensaku/GECA110010.do", 30)
	ObserveListingPage("https://www.hellowork.mhlw.go.jp/kensaku/GECA110010.do", 12)

	if got := testutil.ToFloat64(jobNumbersDiscoveredTotal) - before; got != 42 {
		t.Errorf("expected 42 job numbers discovered, got %f", got)
	}
	if got := testutil.ToFloat64(listingPagesTotal.WithLabelValues("www.hellowork.mhlw.go.jp")); got < 2 {
		t.Errorf("expected at least 2 listing pages, got %f", got)
	}
}

func TestObserveETL(t *testing.T) {
	ObserveETL("done", "", 1500*time.Millisecond)
	ObserveETL("failed", "load_duplicate", 200*time.Millisecond)

	if got := testutil.ToFloat64(etlRunsTotal.WithLabelValues("done", "none")); got < 1 {
		t.Errorf("expected a successful run to be counted, got %f", got)
	}
	if got := testutil.ToFloat64(etlRunsTotal.WithLabelValues("failed", "load_duplicate")); got < 1 {
		t.Errorf("expected a duplicate run to be counted, got %f", got)
	}
	if n := testutil.CollectAndCount(etlDurationSeconds); n < 2 {
		t.Errorf("expected durations for both states, got %d series", n)
	}
}

func TestDeadLetterGauges(t *testing.T) {
	SetDeadLetterDepth(7)
	if got := testutil.ToFloat64(deadLetterDepth); got != 7 {
		t.Errorf("expected depth 7, got %f", got)
	}
	SetDeadLetterDepth(0)
	if got := testutil.ToFloat64(deadLetterDepth); got != 0 {
		t.Errorf("expected depth 0, got %f", got)
	}

	ObserveDeadLetterReport("github")
	if got := testutil.ToFloat64(deadLetterReportsTotal.WithLabelValues("github")); got < 1 {
		t.Errorf("expected a github report to be counted, got %f", got)
	}
}

func TestActiveWorkers(t *testing.T) {
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != 1 {
		t.Errorf("expected 1 active worker, got %f", got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
