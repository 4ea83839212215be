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

	if feedsTotal == nil || articlesTotal == nil || poolPendingTasks == nil || poolTasksTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestPoolObservers(t *testing.T) {
	const pool = "metrics-test-pool"

	SetPoolPending(pool, 3)
	if val := testutil.ToFloat64(poolPendingTasks.WithLabelValues(pool)); val != 3 {
		t.Errorf("expected pending gauge 3, got %f", val)
	}

	IncPoolBusy(pool)
	IncPoolBusy(pool)
	DecPoolBusy(pool)
	if val := testutil.ToFloat64(poolBusyWorkers.WithLabelValues(pool)); val != 1 {
		t.Errorf("expected busy gauge 1, got %f", val)
	}

	ObservePoolTask(pool)
	ObservePoolTask(pool)
	if val := testutil.ToFloat64(poolTasksTotal.WithLabelValues(pool)); val != 2 {
		t.Errorf("expected task counter 2, got %f", val)
	}

	SetPoolSpawned(pool, 4)
	if val := testutil.ToFloat64(poolSpawnedWorkers.WithLabelValues(pool)); val != 4 {
		t.Errorf("expected spawned gauge 4, got %f", val)
	}
}

func TestAggregatorObservers(t *testing.T) {
	ObserveArticle("https://Metrics-Test.example/a", "merged")
	if val := testutil.ToFloat64(articlesTotal.WithLabelValues("metrics-test.example", "merged")); val != 1 {
		t.Errorf("expected article counter 1, got %f", val)
	}

	ObserveBytes("https://bytes-test.example/", 0)
	ObserveBytes("https://bytes-test.example/", 128)
	if val := testutil.ToFloat64(bytesTotal.WithLabelValues("bytes-test.example")); val != 128 {
		t.Errorf("expected bytes counter 128, got %f", val)
	}

	ObserveBuild(2 * time.Second)
	if val := testutil.CollectAndCount(buildDurationSeconds); val != 1 {
		t.Errorf("expected one build histogram, got %d", val)
	}
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

func TestRobotsFallbackObserver(t *testing.T) {
	ObserveRobotsFallback("https://Robots.Example/robots.txt")
	if val := testutil.ToFloat64(robotsFallbacksTotal.WithLabelValues("robots.example")); val != 1 {
		t.Errorf("expected robots fallback counter 1, got %f", val)
	}
}
