package database

import (
	"fmt"
	"time"
)

// Config - параметры подключения к PostgreSQL.
type Config struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConns       int
	MaxConnIdle    time.Duration
	ConnectTimeout time.Duration
}

// DSN возвращает строку подключения.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// MaskedDSN - DSN без пароля, для логов.
func (c Config) MaskedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.User, c.Host, c.Port, c.DBName, c.SSLMode)
}
