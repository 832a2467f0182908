// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/hellowork-crawler/internal/job"
	"github.com/JakeFAU/hellowork-crawler/internal/logging"
	"github.com/JakeFAU/hellowork-crawler/internal/page"
	"github.com/JakeFAU/hellowork-crawler/internal/schedule"
)

// EnvPrefix namespaces environment overrides, e.g. JOBCRAWLER_STORE_ENDPOINT.
const EnvPrefix = "JOBCRAWLER"

// Queue backends.
const (
	QueueMemory = "memory"
	QueueAsynq  = "asynq"
	QueuePubSub = "pubsub"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Site       SiteConfig       `mapstructure:"site"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Store      StoreConfig      `mapstructure:"store"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	Schedule   schedule.Config  `mapstructure:"schedule"`
}

// ServerConfig controls the ops HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BrowserConfig configures the Chrome sessions.
type BrowserConfig struct {
	Headless                 bool   `mapstructure:"headless"`
	ExecPath                 string `mapstructure:"exec_path"`
	UserAgent                string `mapstructure:"user_agent"`
	NavigationTimeoutSeconds int    `mapstructure:"navigation_timeout_seconds"`
	ActionTimeoutSeconds     int    `mapstructure:"action_timeout_seconds"`
}

// SiteConfig locates the job site.
type SiteConfig struct {
	SearchURL string `mapstructure:"search_url"`
}

// CrawlConfig bounds the listing crawl.
type CrawlConfig struct {
	RoughMaxCount   int          `mapstructure:"rough_max_count"`
	NextPageDelayMs int          `mapstructure:"next_page_delay_ms"`
	TimeoutSeconds  int          `mapstructure:"timeout_seconds"`
	Criteria        job.Criteria `mapstructure:"criteria"`
}

// QueueConfig selects and tunes the queue backend.
type QueueConfig struct {
	Backend                string       `mapstructure:"backend"`
	Name                   string       `mapstructure:"name"`
	Capacity               int          `mapstructure:"capacity"`
	MaxReceiveCount        int          `mapstructure:"max_receive_count"`
	VisibilityDelaySeconds int          `mapstructure:"visibility_delay_seconds"`
	Concurrency            int          `mapstructure:"concurrency"`
	ETLTimeoutSeconds      int          `mapstructure:"etl_timeout_seconds"`
	Redis                  RedisConfig  `mapstructure:"redis"`
	PubSub                 PubSubConfig `mapstructure:"pubsub"`
}

// RedisConfig locates the asynq broker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig names the Pub/Sub resources. The dead-letter policy lives on the subscription.
type PubSubConfig struct {
	ProjectID                string `mapstructure:"project_id"`
	TopicID                  string `mapstructure:"topic_id"`
	SubscriptionID           string `mapstructure:"subscription_id"`
	DeadLetterSubscriptionID string `mapstructure:"dead_letter_subscription_id"`
}

// StoreConfig locates the job-record store.
type StoreConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets where detail-page snapshots are written.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig is the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DeadLetterConfig tunes the inspector.
type DeadLetterConfig struct {
	MaxDrain int          `mapstructure:"max_drain"`
	DSN      string       `mapstructure:"dsn"`
	Table    string       `mapstructure:"table"`
	GitHub   GitHubConfig `mapstructure:"github"`
}

// GitHubConfig is the issue tracker the inspector files reports in. Reports are only logged when
// Repo is empty.
type GitHubConfig struct {
	APIURL string   `mapstructure:"api_url"`
	Owner  string   `mapstructure:"owner"`
	Repo   string   `mapstructure:"repo"`
	Token  string   `mapstructure:"token"`
	Labels []string `mapstructure:"labels"`
}

// Load builds a Config from disk/environment. Without a path, config.{yaml,json,toml} is looked up in
// the working directory, /etc/hellowork-crawler and $HOME/.hellowork-crawler; finding none is not an
// error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hellowork-crawler/")
		v.AddConfigPath("$HOME/.hellowork-crawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows, so every key that may come from the
// environment alone needs a default here.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.port", 8080)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout_seconds", 30)
	v.SetDefault("browser.action_timeout_seconds", 10)

	v.SetDefault("site.search_url", page.DefaultSearchURL)

	v.SetDefault("crawl.rough_max_count", 1000)
	v.SetDefault("crawl.next_page_delay_ms", 3000)
	v.SetDefault("crawl.timeout_seconds", 600)
	v.SetDefault("crawl.criteria.prefecture", "")
	v.SetDefault("crawl.criteria.occupation", "")
	v.SetDefault("crawl.criteria.employment_type", "")
	v.SetDefault("crawl.criteria.period", string(job.PeriodAll))

	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.name", "hellowork")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.max_receive_count", 3)
	v.SetDefault("queue.visibility_delay_seconds", 30)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.etl_timeout_seconds", 60)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.pubsub.project_id", "")
	v.SetDefault("queue.pubsub.topic_id", "")
	v.SetDefault("queue.pubsub.subscription_id", "")
	v.SetDefault("queue.pubsub.dead_letter_subscription_id", "")

	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.api_key", "")
	v.SetDefault("store.timeout_seconds", 15)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "snapshots")

	v.SetDefault("deadletter.max_drain", 50)
	v.SetDefault("deadletter.dsn", "")
	v.SetDefault("deadletter.table", "dead_letters")
	v.SetDefault("deadletter.github.api_url", "https://api.github.com")
	v.SetDefault("deadletter.github.owner", "")
	v.SetDefault("deadletter.github.repo", "")
	v.SetDefault("deadletter.github.token", "")
	v.SetDefault("deadletter.github.labels", []string{"dead-letter"})

	v.SetDefault("schedule.timezone", schedule.DefaultTimezone)
	v.SetDefault("schedule.crawl", schedule.DefaultCrawlSpec)
	v.SetDefault("schedule.inspect", schedule.DefaultInspectSpec)
}

// Validate enforces required values and reasonable limits. Every violation is reported.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Browser.NavigationTimeoutSeconds > 0, "browser.navigation_timeout_seconds must be > 0")
	check(c.Browser.ActionTimeoutSeconds > 0, "browser.action_timeout_seconds must be > 0")
	check(c.Site.SearchURL != "", "site.search_url must be set")

	check(c.Crawl.RoughMaxCount > 0, "crawl.rough_max_count must be > 0")
	check(c.Crawl.NextPageDelayMs >= 0, "crawl.next_page_delay_ms must be >= 0")
	check(c.Crawl.TimeoutSeconds >= 0, "crawl.timeout_seconds must be >= 0")
	if et := c.Crawl.Criteria.EmploymentType; et != "" {
		check(slices.Contains(job.EmploymentTypes, et), "crawl.criteria.employment_type %q is not supported", et)
	}
	switch c.Crawl.Criteria.Period {
	case "", job.PeriodAll, job.PeriodToday, job.PeriodWithin3Days, job.PeriodWithin7Days:
	default:
		errs = append(errs, fmt.Errorf("crawl.criteria.period %q is not supported", c.Crawl.Criteria.Period))
	}

	switch c.Queue.Backend {
	case QueueMemory:
	case QueueAsynq:
		check(c.Queue.Redis.Addr != "", "queue.redis.addr must be set for the asynq backend")
	case QueuePubSub:
		ps := c.Queue.PubSub
		check(ps.ProjectID != "", "queue.pubsub.project_id must be set for the pubsub backend")
		check(ps.TopicID != "", "queue.pubsub.topic_id must be set for the pubsub backend")
		check(ps.SubscriptionID != "", "queue.pubsub.subscription_id must be set for the pubsub backend")
		check(ps.DeadLetterSubscriptionID != "", "queue.pubsub.dead_letter_subscription_id must be set for the pubsub backend")
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of memory, asynq, pubsub", c.Queue.Backend))
	}
	check(c.Queue.MaxReceiveCount >= 1, "queue.max_receive_count must be >= 1")
	check(c.Queue.VisibilityDelaySeconds >= 0, "queue.visibility_delay_seconds must be >= 0")
	check(c.Queue.Concurrency > 0, "queue.concurrency must be > 0")
	check(c.Queue.ETLTimeoutSeconds > 0, "queue.etl_timeout_seconds must be > 0")

	check(c.Store.Endpoint != "", "store.endpoint must be set")
	check(c.Store.TimeoutSeconds > 0, "store.timeout_seconds must be > 0")

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		check(c.Storage.Local.BaseDir != "", "storage.local.base_dir must be set for the local backend")
	case StorageGCS:
		check(c.Storage.Bucket != "", "storage.bucket must be set for the gcs backend")
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend))
	}

	check(c.DeadLetter.MaxDrain > 0, "deadletter.max_drain must be > 0")
	if gh := c.DeadLetter.GitHub; gh.Repo != "" {
		check(gh.Owner != "", "deadletter.github.owner must be set when deadletter.github.repo is")
		check(gh.Token != "", "deadletter.github.token must be set when deadletter.github.repo is")
	}

	for name, spec := range map[string]string{"schedule.crawl": c.Schedule.Crawl, "schedule.inspect": c.Schedule.Inspect} {
		if err := schedule.Validate(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// NavigationTimeout bounds one page load.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavigationTimeoutSeconds) * time.Second
}

// ActionTimeout bounds one DOM interaction.
func (c Config) ActionTimeout() time.Duration {
	return time.Duration(c.Browser.ActionTimeoutSeconds) * time.Second
}

// NextPageDelay is the pause between listing pages.
func (c Config) NextPageDelay() time.Duration {
	return time.Duration(c.Crawl.NextPageDelayMs) * time.Millisecond
}

// CrawlTimeout bounds one crawl run; zero means unbounded.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// ETLTimeout bounds one queue message.
func (c Config) ETLTimeout() time.Duration {
	return time.Duration(c.Queue.ETLTimeoutSeconds) * time.Second
}

// VisibilityDelay is how long a failed message waits before redelivery.
func (c Config) VisibilityDelay() time.Duration {
	return time.Duration(c.Queue.VisibilityDelaySeconds) * time.Second
}

// StoreTimeout bounds one store request.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}
