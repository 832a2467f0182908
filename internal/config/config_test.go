package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/schedule"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: true
  level: debug
server:
  port: 9090
browser:
  headless: false
  exec_path: /usr/bin/chromium
crawl:
  rough_max_count: 250
  next_page_delay_ms: 1500
  criteria:
    prefecture: 東京都
    employment_type: 正社員
    period: within7days
queue:
  backend: pubsub
  max_receive_count: 5
  concurrency: 8
  pubsub:
    project_id: proj
    topic_id: etl
    subscription_id: etl-sub
    dead_letter_subscription_id: etl-dlq-sub
store:
  endpoint: https://store.example.com
  api_key: secret
storage:
  backend: local
  local:
    base_dir: /tmp/snapshots
deadletter:
  dsn: postgres://localhost/crawler
  github:
    owner: acme
    repo: crawler-ops
    token: ghp_x
    labels: [dead-letter, etl]
schedule:
  crawl: "0 4 * * TUE"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecPath)
	assert.Equal(t, 250, cfg.Crawl.RoughMaxCount)
	assert.Equal(t, 1500*time.Millisecond, cfg.NextPageDelay())
	assert.Equal(t, job.Criteria{
		Prefecture:     "東京都",
		EmploymentType: job.EmploymentFullTime,
		Period:         job.PeriodWithin7Days,
	}, cfg.Crawl.Criteria)
	assert.Equal(t, QueuePubSub, cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Queue.MaxReceiveCount)
	assert.Equal(t, "etl-dlq-sub", cfg.Queue.PubSub.DeadLetterSubscriptionID)
	assert.Equal(t, "secret", cfg.Store.APIKey)
	assert.Equal(t, "/tmp/snapshots", cfg.Storage.Local.BaseDir)
	assert.Equal(t, []string{"dead-letter", "etl"}, cfg.DeadLetter.GitHub.Labels)
	assert.Equal(t, "0 4 * * TUE", cfg.Schedule.Crawl)
	assert.Equal(t, schedule.DefaultInspectSpec, cfg.Schedule.Inspect)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "store:\n  endpoint: http://localhost:9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, page.DefaultSearchURL, cfg.Site.SearchURL)
	assert.Equal(t, 1000, cfg.Crawl.RoughMaxCount)
	assert.Equal(t, 3*time.Second, cfg.NextPageDelay())
	assert.Equal(t, 10*time.Minute, cfg.CrawlTimeout())
	assert.Equal(t, QueueMemory, cfg.Queue.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxReceiveCount)
	assert.Equal(t, time.Minute, cfg.ETLTimeout())
	assert.Equal(t, 30*time.Second, cfg.VisibilityDelay())
	assert.Equal(t, 15*time.Second, cfg.StoreTimeout())
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.DeadLetter.MaxDrain)
	assert.Equal(t, schedule.DefaultTimezone, cfg.Schedule.Timezone)
	assert.Equal(t, job.PeriodAll, cfg.Crawl.Criteria.Period)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

// Not parallel: t.Setenv.
func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("JOBCRAWLER_STORE_ENDPOINT", "https://env.example.com")
	t.Setenv("JOBCRAWLER_STORE_API_KEY", "env-key")
	t.Setenv("JOBCRAWLER_QUEUE_BACKEND", "asynq")
	t.Setenv("JOBCRAWLER_CRAWL_ROUGH_MAX_COUNT", "40")
	t.Setenv("JOBCRAWLER_CRAWL_NEXT_PAGE_DELAY_MS", "250")
	t.Setenv("JOBCRAWLER_BROWSER_HEADLESS", "false")
	t.Setenv("JOBCRAWLER_BROWSER_EXEC_PATH", "/opt/chrome")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Store.Endpoint)
	assert.Equal(t, "env-key", cfg.Store.APIKey)
	assert.Equal(t, QueueAsynq, cfg.Queue.Backend)
	assert.Equal(t, 40, cfg.Crawl.RoughMaxCount)
	assert.Equal(t, 250*time.Millisecond, cfg.NextPageDelay())
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/opt/chrome", cfg.Browser.ExecPath)
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Browser: BrowserConfig{NavigationTimeoutSeconds: 30, ActionTimeoutSeconds: 10},
		Site:    SiteConfig{SearchURL: page.DefaultSearchURL},
		Crawl:   CrawlConfig{RoughMaxCount: 100},
		Queue: QueueConfig{
			Backend:           QueueMemory,
			MaxReceiveCount:   3,
			Concurrency:       1,
			ETLTimeoutSeconds: 60,
		},
		Store:      StoreConfig{Endpoint: "http://localhost", TimeoutSeconds: 5},
		Storage:    StorageConfig{Backend: StorageMemory},
		DeadLetter: DeadLetterConfig{MaxDrain: 10},
		Schedule: schedule.Config{
			Crawl:   schedule.DefaultCrawlSpec,
			Inspect: schedule.DefaultInspectSpec,
		},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"soft cap", func(c *Config) { c.Crawl.RoughMaxCount = 0 }, "crawl.rough_max_count"},
		{"negative delay", func(c *Config) { c.Crawl.NextPageDelayMs = -1 }, "crawl.next_page_delay_ms"},
		{"employment type", func(c *Config) { c.Crawl.Criteria.EmploymentType = "契約社員" }, "employment_type"},
		{"period", func(c *Config) { c.Crawl.Criteria.Period = "yesterday" }, "crawl.criteria.period"},
		{"queue backend", func(c *Config) { c.Queue.Backend = "sqs" }, "queue.backend"},
		{"pubsub ids", func(c *Config) { c.Queue.Backend = QueuePubSub }, "queue.pubsub.project_id"},
		{"redis addr", func(c *Config) { c.Queue.Backend = QueueAsynq }, "queue.redis.addr"},
		{"receive count", func(c *Config) { c.Queue.MaxReceiveCount = 0 }, "queue.max_receive_count"},
		{"store endpoint", func(c *Config) { c.Store.Endpoint = "" }, "store.endpoint"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.bucket"},
		{"github token", func(c *Config) { c.DeadLetter.GitHub.Repo = "ops" }, "deadletter.github.owner"},
		{"cron spec", func(c *Config) { c.Schedule.Inspect = "every morning" }, "schedule.inspect"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "error %q should mention %q", err, tc.want)
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Store.Endpoint = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "store.endpoint")
}
