package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/pthm/sqlguard"
)

const (
	maxWalkDepth = 25
	redacted     = "redacted"
)

// AppFs is the filesystem config discovery and .env loading use.
var AppFs = afero.NewOsFs()

// Process hooks, replaced in tests.
var (
	getwd     = os.Getwd
	lookupEnv = os.LookupEnv
	setEnv    = os.Setenv
)

// Config represents the sqlguard configuration from sqlguard.yaml.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Pool     PoolConfig     `mapstructure:"pool" json:"pool"`
	Doctor   DoctorConfig   `mapstructure:"doctor" json:"doctor"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the adapter: "pgxpool" uses pgx natively, "pgx",
	// "postgres" and "sqlite3" go through database/sql.
	Driver   string `mapstructure:"driver" json:"driver"`
	URL      string `mapstructure:"url" json:"url"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Name     string `mapstructure:"name" json:"name"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// PoolConfig mirrors sqlguard.Config. Durations are in milliseconds.
type PoolConfig struct {
	ConnectionTimeoutMS   int `mapstructure:"connection_timeout_ms" json:"connection_timeout_ms"`
	StatementTimeoutMS    int `mapstructure:"statement_timeout_ms" json:"statement_timeout_ms"`
	IdleTimeoutMS         int `mapstructure:"idle_timeout_ms" json:"idle_timeout_ms"`
	MaxConnections        int `mapstructure:"max_connections" json:"max_connections"`
	TransactionRetryLimit int `mapstructure:"transaction_retry_limit" json:"transaction_retry_limit"`
}

// DoctorConfig holds doctor command settings.
type DoctorConfig struct {
	Verbose bool `mapstructure:"verbose" json:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// .env and .env.local in the working directory are loaded into the
// environment first, so they can supply SQLGUARD_* variables.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	if err := loadDotEnv(); err != nil {
		return nil, "", err
	}

	v := viper.New()
	v.SetFs(AppFs)

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("SQLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	d := sqlguard.DefaultConfig()

	// Database defaults
	v.SetDefault("database.driver", "pgxpool")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	// Pool defaults
	v.SetDefault("pool.connection_timeout_ms", d.ConnectionTimeout.Milliseconds())
	v.SetDefault("pool.statement_timeout_ms", d.StatementTimeout.Milliseconds())
	v.SetDefault("pool.idle_timeout_ms", d.IdleTimeout.Milliseconds())
	v.SetDefault("pool.max_connections", d.MaxConnections)
	v.SetDefault("pool.transaction_retry_limit", d.TransactionRetryLimit)

	// Doctor defaults
	v.SetDefault("doctor.verbose", false)
}

// loadDotEnv loads .env and then .env.local, which overrides it. Missing
// files are skipped.
func loadDotEnv() error {
	if _, err := AppFs.Stat(".env"); err == nil {
		if err := loadEnvFile(".env", false); err != nil {
			return err
		}
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		if err := loadEnvFile(".env.local", true); err != nil {
			return err
		}
	}
	return nil
}

func loadEnvFile(name string, override bool) error {
	f, err := AppFs.Open(name)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	env, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	for k, val := range env {
		if _, exists := lookupEnv(k); exists && !override {
			continue
		}
		if err := setEnv(k, val); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}
	return nil
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for sqlguard.yaml or sqlguard.yml,
// stopping at a .git directory or after maxWalkDepth levels, and finally
// tries ~/.config/sqlguard/sqlguard.yaml.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := AppFs.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		if path := firstExisting(dir, "sqlguard.yaml", "sqlguard.yml"); path != "" {
			return path, nil
		}

		// Check for repo boundary (.git file or directory)
		if _, err := AppFs.Stat(filepath.Join(dir, ".git")); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", nil // No home directory, use defaults
	}
	return firstExisting(filepath.Join(home, ".config", "sqlguard"), "sqlguard.yaml", "sqlguard.yml"), nil
}

func firstExisting(dir string, names ...string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := AppFs.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	// Build DSN from discrete fields
	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	// Build postgres:// URL
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Options converts the pool settings to sqlguard options.
func (c *Config) Options() []sqlguard.Option {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return []sqlguard.Option{
		sqlguard.WithConnectionTimeout(ms(c.Pool.ConnectionTimeoutMS)),
		sqlguard.WithStatementTimeout(ms(c.Pool.StatementTimeoutMS)),
		sqlguard.WithIdleTimeout(ms(c.Pool.IdleTimeoutMS)),
		sqlguard.WithMaxConnections(c.Pool.MaxConnections),
		sqlguard.WithTransactionRetryLimit(c.Pool.TransactionRetryLimit),
	}
}

// Redacted returns a copy with the password and any password in the URL
// masked, for display.
func (c Config) Redacted() Config {
	if c.Database.Password != "" {
		c.Database.Password = redacted
	}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			c.Database.URL = u.String()
		}
	}
	return c
}
