package mysql

import (
	"fmt"
	"time"
)

// Config holds MySQL connection and pool settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	// Pool settings; see https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// GORM log level: "silent", "error", "warn", "info".
	LogLevel string `yaml:"log_level"`
}

// WithDefaults fills unset pool settings.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 100
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

// DSN renders the data source name:
// user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}
