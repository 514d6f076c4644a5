package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	// Speicher
	DBDriver     string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath       string `envconfig:"DB_PATH" default:"physbib.db"`
	DBHost       string `envconfig:"DB_HOST" default:"localhost"`
	DBPort       int    `envconfig:"DB_PORT" default:"5432"`
	DBUser       string `envconfig:"DB_USER"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME" default:"physbib"`
	DBSSLMode    string `envconfig:"DB_SSLMODE" default:"disable"`
	LogSQLErrors bool   `envconfig:"LOG_SQL_ERRORS" default:"false"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Limits für Anzeige und Abfragen
	MaxAuthorNames     int           `envconfig:"MAX_AUTHOR_NAMES" default:"3"`
	MaxAuthorSave      int           `envconfig:"MAX_AUTHOR_SAVE" default:"6"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"20s"`
	DefaultPageSize    int           `envconfig:"DEFAULT_PAGE_SIZE" default:"100"`
	DefaultUpdateFrom  int           `envconfig:"DEFAULT_UPDATE_FROM" default:"0"`
	MaxExternalResults int           `envconfig:"MAX_EXTERNAL_RESULTS" default:"10"`
	DefaultCategories  []int         `envconfig:"DEFAULT_CATEGORIES"`
	FetchAbstract      bool          `envconfig:"FETCH_ABSTRACT" default:"false"`

	InspireBaseURL string `envconfig:"INSPIRE_BASE_URL" default:"https://inspirehep.net/api"`
	ArxivURL       string `envconfig:"ARXIV_URL" default:"https://arxiv.org"`
	DoiURL         string `envconfig:"DOI_URL" default:"https://doi.org/"`

	SyncCron   string `envconfig:"SYNC_CRON" default:"0 3 * * *"`
	BackupCron string `envconfig:"BACKUP_CRON"`

	// Backup nach S3 (optional)
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"physbib/"`
	BackupKeep  int    `envconfig:"BACKUP_KEEP" default:"4"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// BackupEnabled meldet, ob genug S3-Parameter für Backups gesetzt sind.
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// Validate prüft die Werte einmalig nach dem Laden.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH must not be empty for sqlite"))
		}
	case "postgres":
		if c.DBUser == "" {
			errs = append(errs, errors.New("DB_USER is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	if c.MaxAuthorNames < 1 {
		errs = append(errs, errors.New("MAX_AUTHOR_NAMES must be positive"))
	}
	if c.MaxAuthorSave < c.MaxAuthorNames {
		errs = append(errs, errors.New("MAX_AUTHOR_SAVE must not be lower than MAX_AUTHOR_NAMES"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.DefaultPageSize < 1 {
		errs = append(errs, errors.New("DEFAULT_PAGE_SIZE must be positive"))
	}
	if c.DefaultUpdateFrom < 0 {
		errs = append(errs, errors.New("DEFAULT_UPDATE_FROM must not be negative"))
	}
	if c.BackupKeep < 1 {
		errs = append(errs, errors.New("BACKUP_KEEP must be positive"))
	}
	if !strings.HasSuffix(c.DoiURL, "/") {
		c.DoiURL += "/"
	}
	c.ArxivURL = strings.TrimSuffix(c.ArxivURL, "/")
	c.InspireBaseURL = strings.TrimSuffix(c.InspireBaseURL, "/")
	return errors.Join(errs...)
}

// Default liefert die Standardwerte, überlagert von gesetzten Umgebungsvariablen (ohne .env).
func Default() *Config {
	var c Config
	_ = envconfig.Process("", &c)
	_ = c.Validate()
	return &c
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}
