package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		DSN            string `mapstructure:"DSN"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConns    int           `mapstructure:"MAX_IDLE_CONNS"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Enable      bool          `mapstructure:"ENABLE"`
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Awards    Awards  `mapstructure:"AWARDS"`
	Outbox    Outbox  `mapstructure:"OUTBOX"`
	OAuth     OAuth   `mapstructure:"OAUTH"`
	Webhook   Webhook `mapstructure:"WEBHOOK"`
	Task      Task    `mapstructure:"TASK"`
	Otel      Otel    `mapstructure:"OTEL"`
	Pyroscope struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
}

type Awards struct {
	AllowSelfAward   bool          `mapstructure:"ALLOW_SELF_AWARD"`
	MaxRecipients    int           `mapstructure:"MAX_RECIPIENTS"`
	RateLimitMax     int           `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow  time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitBackend string        `mapstructure:"RATE_LIMIT_BACKEND"`
}

type Outbox struct {
	Enabled           bool          `mapstructure:"ENABLED"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	BatchSize         int           `mapstructure:"BATCH_SIZE"`
	MaxAttempts       int           `mapstructure:"MAX_ATTEMPTS"`
	Backoff           time.Duration `mapstructure:"BACKOFF"`
	VisibilityTimeout time.Duration `mapstructure:"VISIBILITY_TIMEOUT"`
}

type OAuth struct {
	InstallationEncryptionKey string        `mapstructure:"INSTALLATION_ENCRYPTION_KEY"`
	StateTTL                  time.Duration `mapstructure:"STATE_TTL"`
}

type Webhook struct {
	Enable  bool          `mapstructure:"ENABLE"`
	URL     string        `mapstructure:"URL"`
	Timeout time.Duration `mapstructure:"TIMEOUT"`
}

// Task controls forwarding of awarded events onto the asynq queue.
type Task struct {
	Forward bool   `mapstructure:"FORWARD"`
	Queue   string `mapstructure:"QUEUE"`
}

// Otel configures span export. Spans are dropped unless ENABLE is set.
type Otel struct {
	Enable   bool   `mapstructure:"ENABLE"`
	Protocol string `mapstructure:"PROTOCOL"`
	Endpoint string `mapstructure:"ENDPOINT"`
	Insecure bool   `mapstructure:"INSECURE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

var defaults = map[string]any{
	"APP_ENV":     "development",
	"APP_NAME":    "kudos",
	"APP_VERSION": "dev",
	"LOG_LEVEL":   "info",

	"TLS.ENABLE":    false,
	"TLS.CERT_PATH": "",
	"TLS.KEY_PATH":  "",

	"HTTP_SERVER.ADDR":          "8080",
	"HTTP_SERVER.READ_TIMEOUT":  15 * time.Second,
	"HTTP_SERVER.WRITE_TIMEOUT": 15 * time.Second,
	"HTTP_SERVER.IDLE_TIMEOUT":  60 * time.Second,

	"DATABASE.TYPE":                               "postgres",
	"DATABASE.DSN":                                "",
	"DATABASE.HOST":                               "localhost",
	"DATABASE.PORT":                               "5432",
	"DATABASE.DBNAME":                             "kudos",
	"DATABASE.USER":                               "postgres",
	"DATABASE.PASSWORD":                           "",
	"DATABASE.SSLMODE":                            "disable",
	"DATABASE.TIMEZONE":                           "UTC",
	"DATABASE.AUTO_MIGRATE":                       true,
	"DATABASE.METRICS":                            false,
	"DATABASE.CONNECTION_POOL.MAX_IDLE_CONNS":     5,
	"DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS":     20,
	"DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME":  30 * time.Minute,
	"DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME": 5 * time.Minute,

	"REDIS.ENABLE":       false,
	"REDIS.ADDR":         "localhost:6379",
	"REDIS.PASSWORD":     "",
	"REDIS.DB":           0,
	"REDIS.POOL_SIZE":    10,
	"REDIS.POOL_TIMEOUT": 4 * time.Second,

	"AWARDS.ALLOW_SELF_AWARD":   false,
	"AWARDS.MAX_RECIPIENTS":     5,
	"AWARDS.RATE_LIMIT_MAX":     5,
	"AWARDS.RATE_LIMIT_WINDOW":  time.Minute,
	"AWARDS.RATE_LIMIT_BACKEND": "memory",

	"OUTBOX.ENABLED":            true,
	"OUTBOX.POLL_INTERVAL":      time.Second,
	"OUTBOX.BATCH_SIZE":         20,
	"OUTBOX.MAX_ATTEMPTS":       10,
	"OUTBOX.BACKOFF":            30 * time.Second,
	"OUTBOX.VISIBILITY_TIMEOUT": 5 * time.Minute,

	"OAUTH.INSTALLATION_ENCRYPTION_KEY": "",
	"OAUTH.STATE_TTL":                   10 * time.Minute,

	"WEBHOOK.ENABLE":  false,
	"WEBHOOK.URL":     "",
	"WEBHOOK.TIMEOUT": 5 * time.Second,

	"TASK.FORWARD": false,
	"TASK.QUEUE":   "default",

	"OTEL.ENABLE":   false,
	"OTEL.PROTOCOL": "http",
	"OTEL.ENDPOINT": "localhost:4318",
	"OTEL.INSECURE": true,

	"PYROSCOPE.ENABLE": false,
	"PYROSCOPE.ADDR":   "http://localhost:4040",
}

// LoadConfig reads config.yaml from the working directory when present and
// overlays environment variables (OUTBOX.MAX_ATTEMPTS -> OUTBOX_MAX_ATTEMPTS).
func LoadConfig() (*Config, error) {
	return Load(".")
}

func Load(paths ...string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
