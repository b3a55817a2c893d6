package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kudos/pkg/config"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
)

const (
	openAttempts = 5
	openDelay    = 3 * time.Second
)

// Dialect picks the gorm dialector for DATABASE.TYPE. DATABASE.DSN wins over
// the discrete host/port/user fields when set.
func Dialect(cfg *config.Config) (gorm.Dialector, error) {
	d := cfg.Database
	switch strings.ToLower(d.Type) {
	case "", "postgres", "postgresql":
		dsn := d.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
				d.Host, d.Port, d.User, d.Password, d.DBNAME, d.SSLMode, d.Timezone)
		}
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := d.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				d.User, d.Password, d.Host, d.Port, d.DBNAME)
		}
		return mysql.Open(dsn), nil
	case "sqlite":
		dsn := d.DSN
		if dsn == "" {
			dsn = "file:kudos.db?_busy_timeout=5000"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", d.Type)
	}
}

type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Dialector gorm.Dialector
}

func New(p Params) (*gorm.DB, error) {
	cfg := p.Config

	logLevel := logger.Info
	showSQL := true
	if cfg.AppEnv == "production" {
		logLevel = logger.Warn
		showSQL = false
	}

	gormLogger := NewZapGormLogger(zap.L(), logLevel, showSQL)

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < openAttempts; i++ {
		db, err = gorm.Open(p.Dialector, &gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if err == nil {
			break
		}
		zap.L().Warn("[DB] Database not ready, retrying", zap.Int("retry", i+1), zap.Duration("delay", openDelay), zap.Error(err))
		time.Sleep(openDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := Otel(db); err != nil {
		return nil, err
	}

	if cfg.Database.Metrics {
		if err := Metric(db, cfg); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	cp := cfg.Database.ConnectionPool
	sqlDB.SetMaxIdleConns(cp.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	zap.L().Info("[DB] Database connection configured", zap.String("dialect", db.Dialector.Name()))

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[DB] Closing connection pool")
			return sqlDB.Close()
		},
	})

	return db, nil
}

func Otel(db *gorm.DB) error {
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		zap.L().Error("failed to register db telemetry", zap.Error(err))
		return err
	}
	return nil
}

// Metric registers the gorm prometheus plugin. Pool stats are exposed through
// the default registry served on /metrics, so the plugin's own server stays off.
func Metric(db *gorm.DB, cfg *config.Config) error {
	var collectors []prometheus.MetricsCollector
	switch db.Dialector.Name() {
	case "postgres":
		collectors = append(collectors, &prometheus.Postgres{VariableNames: []string{"max_connections"}})
	case "mysql":
		collectors = append(collectors, &prometheus.MySQL{VariableNames: []string{"Threads_running"}})
	}

	if err := db.Use(prometheus.New(prometheus.Config{
		DBName:           cfg.Database.DBNAME,
		RefreshInterval:  15,
		StartServer:      false,
		MetricsCollector: collectors,
	})); err != nil {
		zap.L().Error("failed to register db metrics", zap.Error(err))
		return err
	}
	return nil
}

// Migrate creates or updates the tables for the given models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
