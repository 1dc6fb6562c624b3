package warehouse

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

const (
	TypeSnowflake  = "snowflake"
	TypePostgres   = "postgres"
	TypeMySQL      = "mysql"
	TypeClickHouse = "clickhouse"
)

// Config is the warehouse's config for connecting.
type Config struct {
	Type string `koanf:"type"`

	// Snowflake.
	Account        string        `koanf:"account"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	Authenticator  string        `koanf:"authenticator"`
	Token          string        `koanf:"token"`
	PrivateKeyFile string        `koanf:"private_key_file"`
	Role           string        `koanf:"role"`
	Warehouse      string        `koanf:"warehouse"`
	Database       string        `koanf:"database"`
	Schema         string        `koanf:"schema"`
	LoginTimeout   time.Duration `koanf:"login_timeout"`

	// DSN for every other driver type.
	DSN string `koanf:"dsn"`

	MaxIdleConns   int           `koanf:"max_idle"`
	MaxActiveConns int           `koanf:"max_active"`
	ConnLifetime   time.Duration `koanf:"conn_lifetime"`
	QueryTimeout   time.Duration `koanf:"query_timeout"`

	// Discard the connection on every failed query and not just on
	// connection-class failures.
	ResetOnAnyError bool `koanf:"reset_on_any_error"`
}

// Open creates and returns a database connection and pings it.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver, dsn, err := cfg.driverDSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to warehouse: %w", err)
	}

	cfg.setPool(db)

	// Ping the warehouse to check for connection issues.
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging warehouse: %w", err)
	}

	return db, nil
}

// setPool applies the pool limits. Unset limits mean a single connection,
// not database/sql's unlimited open and no idle ones.
func (c Config) setPool(db *sql.DB) {
	if c.MaxActiveConns <= 0 {
		c.MaxActiveConns = 1
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 1
	}

	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetMaxOpenConns(c.MaxActiveConns)
	db.SetConnMaxLifetime(c.ConnLifetime)
}

// driverDSN returns the database/sql driver name and DSN for the config.
func (c Config) driverDSN() (string, string, error) {
	switch c.Type {
	case "", TypeSnowflake:
		sf, err := c.snowflakeConfig()
		if err != nil {
			return "", "", err
		}
		dsn, err := gosnowflake.DSN(sf)
		if err != nil {
			return "", "", fmt.Errorf("error building snowflake DSN: %w", err)
		}
		return TypeSnowflake, dsn, nil

	case TypePostgres, TypeMySQL, TypeClickHouse:
		if c.DSN == "" {
			return "", "", fmt.Errorf("warehouse.dsn is required for type %s", c.Type)
		}
		return c.Type, c.DSN, nil
	}

	return "", "", fmt.Errorf("unknown warehouse type: %s", c.Type)
}

func (c Config) snowflakeConfig() (*gosnowflake.Config, error) {
	if c.Account == "" || c.User == "" {
		return nil, errors.New("warehouse.account and warehouse.user are required")
	}

	sf := &gosnowflake.Config{
		Account:      c.Account,
		User:         c.User,
		Password:     c.Password,
		Role:         c.Role,
		Warehouse:    c.Warehouse,
		Database:     c.Database,
		Schema:       c.Schema,
		LoginTimeout: c.LoginTimeout,
	}

	switch strings.ToLower(c.Authenticator) {
	case "", "snowflake":
		sf.Authenticator = gosnowflake.AuthTypeSnowflake
	case "externalbrowser":
		sf.Authenticator = gosnowflake.AuthTypeExternalBrowser
		// Cache the SSO token so that reconnects don't open a browser.
		sf.ClientStoreTemporaryCredential = gosnowflake.ConfigBoolTrue
	case "oauth":
		if c.Token == "" {
			return nil, errors.New("warehouse.token is required for oauth")
		}
		sf.Authenticator = gosnowflake.AuthTypeOAuth
		sf.Token = c.Token
	case "jwt", "snowflake_jwt":
		key, err := readPrivateKey(c.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		sf.Authenticator = gosnowflake.AuthTypeJwt
		sf.PrivateKey = key
	default:
		return nil, fmt.Errorf("unknown snowflake authenticator: %s", c.Authenticator)
	}

	return sf, nil
}

// readPrivateKey reads a PEM encoded PKCS#8 RSA key for key-pair auth.
func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("warehouse.private_key_file is required for jwt")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading private key: %w", err)
	}

	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("error parsing private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key in %s is not RSA", path)
	}

	return rsaKey, nil
}
