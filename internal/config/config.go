package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// MongoURI points at the document store holding recipients and, unless
	// the sqlite ledger is selected, the send ledger.
	MongoURI string `env:"UTSKICK_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"UTSKICK_MONGO_DB" envDefault:"utskick"`

	// LedgerBackend selects where sent records live, "mongo" or "sqlite".
	LedgerBackend string `env:"UTSKICK_LEDGER_BACKEND" envDefault:"mongo"`
	SqliteURI     string `env:"UTSKICK_SQLITE_URI" envDefault:"./utskick.sqlite"`

	// LedgerRetention expires sent records after the given window, 0 keeps
	// them forever. An expired record is indistinguishable from never sent.
	LedgerRetention time.Duration `env:"UTSKICK_LEDGER_RETENTION" envDefault:"0"`

	// LedgerExempt lists addresses that are always dispatched and never
	// recorded, used for test and verification sends.
	LedgerExempt []string `env:"UTSKICK_LEDGER_EXEMPT" envSeparator:","`

	ProfilesPath string `env:"UTSKICK_PROFILES" envDefault:"./profiles.yaml"`

	TrackingBaseURL string `env:"UTSKICK_TRACKING_BASE_URL"`

	Hostname string `env:"UTSKICK_HOSTNAME"` // local name presented in HELO

	// Transport tuning, per run.
	SMTPConcurrency int     `env:"UTSKICK_SMTP_CONCURRENCY" envDefault:"10"`
	SMTPRate        float64 `env:"UTSKICK_SMTP_RATE" envDefault:"5"` // msgs/sec

	RetryAttempts  int           `env:"UTSKICK_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"UTSKICK_RETRY_BASE_DELAY" envDefault:"1s"`

	Workers int `env:"UTSKICK_WORKERS" envDefault:"10"`

	WebhookURL string `env:"UTSKICK_WEBHOOK_URL"`

	APIInterface string `env:"UTSKICK_API_INTERFACE"`
	APIPort      int    `env:"UTSKICK_API_PORT" envDefault:"8080"`

	MetricsPoll         bool   `env:"UTSKICK_METRICS_POLL" envDefault:"true"`
	MetricsPollUser     string `env:"UTSKICK_METRICS_POLL_BASIC_AUTH_USER"`
	MetricsPollPassword string `env:"UTSKICK_METRICS_POLL_BASIC_AUTH_PASS"`

	LogLevel string `env:"UTSKICK_LOG_LEVEL" envDefault:"info"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}
