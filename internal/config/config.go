package config

import (
	"fmt"
	"strings"
	"time"

	"dungeon-server/internal/balance"
	"dungeon-server/internal/database"
	"dungeon-server/internal/logger"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Бэкенды хранилища.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config содержит конфигурацию dungeon-server.
type Config struct {
	// Настройки сервера
	Port string `envconfig:"DUNGEON_SERVER_PORT" default:"8090"`

	// Логирование
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding       string `envconfig:"LOG_ENCODING" default:"json"`
	LogOutputPath     string `envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
	LogFileMaxSizeMB  int    `envconfig:"LOG_FILE_MAX_SIZE_MB" default:"100"`
	LogFileMaxBackups int    `envconfig:"LOG_FILE_MAX_BACKUPS" default:"5"`
	LogFileMaxAgeDays int    `envconfig:"LOG_FILE_MAX_AGE_DAYS" default:"14"`

	// Хранилище
	StoreBackend  string        `envconfig:"STORE_BACKEND" default:"postgres"`
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"dungeon"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string `ignored:"true"`

	// Блокировка забега. Пустой адрес - блокировка в памяти процесса
	RedisAddr   string        `envconfig:"REDIS_ADDR"`
	RedisDB     int           `envconfig:"REDIS_DB" default:"0"`
	RunLockTTL  time.Duration `envconfig:"RUN_LOCK_TTL" default:"2m"`
	RunLockWait time.Duration `envconfig:"RUN_LOCK_WAIT" default:"30s"`

	// Уведомления. Пустой URL - публикация отключена
	RabbitMQURL         string `envconfig:"RABBITMQ_URL"`
	DungeonUpdatesQueue string `envconfig:"DUNGEON_UPDATES_QUEUE" default:"dungeon_updates"`

	// LLM
	AIClientType          string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL             string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AITimeout             time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	LLMModelStrategy      string        `envconfig:"LLM_MODEL_STRATEGY" default:"gpt-4o-mini"`
	LLMModelComposer      string        `envconfig:"LLM_MODEL_COMPOSER" default:"gpt-4o-mini"`
	LLMFallbackMultiplier float64       `envconfig:"LLM_FALLBACK_MULTIPLIER" default:"1.0"`
	AIAPIKey              string        `ignored:"true"`

	// Балансировка
	ThreatBandLow        float64 `envconfig:"THREAT_BAND_LOW" default:"0.9"`
	ThreatBandHigh       float64 `envconfig:"THREAT_BAND_HIGH" default:"1.1"`
	SelectionMaxAttempts int     `envconfig:"SELECTION_MAX_ATTEMPTS" default:"100"`
	MonstersPerRoomRange []int   `envconfig:"MONSTERS_PER_ROOM_RANGE" default:"1,3"`

	// События
	EventFallbackChoices    []string `envconfig:"EVENT_FALLBACK_CHOICES" default:"관찰한다,상호작용을 시도한다"`
	PromptMemoryTokenBudget int      `envconfig:"PROMPT_MEMORY_TOKEN_BUDGET" default:"800"`

	// Межсервисный JWT. Пустой секрет - маршруты не защищены
	InterServiceJWTSecret string `ignored:"true"`
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации dungeon-server: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var err error
	if cfg.StoreBackend == StoreBackendPostgres {
		cfg.DBPassword, err = ReadSecret("db_password")
		if err != nil {
			return nil, err
		}
	}
	if cfg.AIAPIKey, err = ReadOptionalSecret("ai_api_key"); err != nil {
		return nil, err
	}
	if cfg.InterServiceJWTSecret, err = ReadOptionalSecret("inter_service_jwt_secret"); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend != StoreBackendPostgres && c.StoreBackend != StoreBackendMemory {
		return fmt.Errorf("STORE_BACKEND: неизвестный бэкенд %q", c.StoreBackend)
	}
	if len(c.MonstersPerRoomRange) != 2 || c.MonstersPerRoomRange[0] < 1 || c.MonstersPerRoomRange[0] > c.MonstersPerRoomRange[1] {
		return fmt.Errorf("MONSTERS_PER_ROOM_RANGE: ожидается 'min,max' с 1 <= min <= max, получено %v", c.MonstersPerRoomRange)
	}
	if c.ThreatBandLow <= 0 || c.ThreatBandLow > 1 || c.ThreatBandHigh < 1 {
		return fmt.Errorf("THREAT_BAND_LOW/HIGH: некорректный коридор [%v, %v]", c.ThreatBandLow, c.ThreatBandHigh)
	}
	if c.LLMFallbackMultiplier < 0 {
		return fmt.Errorf("LLM_FALLBACK_MULTIPLIER: отрицательное значение %v", c.LLMFallbackMultiplier)
	}
	choices := c.EventFallbackChoices[:0]
	for _, ch := range c.EventFallbackChoices {
		if ch = strings.TrimSpace(ch); ch != "" {
			choices = append(choices, ch)
		}
	}
	if len(choices) < 2 {
		return fmt.Errorf("EVENT_FALLBACK_CHOICES: нужно минимум 2 варианта")
	}
	c.EventFallbackChoices = choices
	return nil
}

// Database возвращает настройки пула PostgreSQL.
func (c *Config) Database() database.Config {
	return database.Config{
		Host:        c.DBHost,
		Port:        c.DBPort,
		User:        c.DBUser,
		Password:    c.DBPassword,
		DBName:      c.DBName,
		SSLMode:     c.DBSSLMode,
		MaxConns:    c.DBMaxConns,
		MaxConnIdle: c.DBIdleTimeout,
	}
}

// Placer возвращает параметры MonsterPlacer.
func (c *Config) Placer() balance.PlacerConfig {
	p := balance.DefaultPlacerConfig()
	p.BandLow = c.ThreatBandLow
	p.BandHigh = c.ThreatBandHigh
	p.MaxAttempts = c.SelectionMaxAttempts
	p.MinPerRoom = c.MonstersPerRoomRange[0]
	p.MaxPerRoom = c.MonstersPerRoomRange[1]
	return p
}

// Logger возвращает настройки логгера.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:          c.LogLevel,
		Encoding:       c.LogEncoding,
		OutputPath:     c.LogOutputPath,
		FileMaxSizeMB:  c.LogFileMaxSizeMB,
		FileMaxBackups: c.LogFileMaxBackups,
		FileMaxAgeDays: c.LogFileMaxAgeDays,
	}
}

// LogSummary пишет загруженную конфигурацию без секретов.
func (c *Config) LogSummary(log *zap.Logger) {
	fields := []zap.Field{
		zap.String("port", c.Port),
		zap.String("store_backend", c.StoreBackend),
		zap.String("redis_addr", c.RedisAddr),
		zap.Duration("run_lock_ttl", c.RunLockTTL),
		zap.Bool("rabbitmq_enabled", c.RabbitMQURL != ""),
		zap.String("dungeon_updates_queue", c.DungeonUpdatesQueue),
		zap.String("ai_client_type", c.AIClientType),
		zap.String("ai_base_url", c.AIBaseURL),
		zap.String("llm_model_strategy", c.LLMModelStrategy),
		zap.String("llm_model_composer", c.LLMModelComposer),
		zap.Float64("llm_fallback_multiplier", c.LLMFallbackMultiplier),
		zap.Float64s("threat_band", []float64{c.ThreatBandLow, c.ThreatBandHigh}),
		zap.Ints("monsters_per_room", c.MonstersPerRoomRange),
		zap.Bool("ai_api_key_loaded", c.AIAPIKey != ""),
		zap.Bool("inter_service_auth", c.InterServiceJWTSecret != ""),
	}
	if c.StoreBackend == StoreBackendPostgres {
		fields = append(fields, zap.String("db_dsn", c.Database().MaskedDSN()))
	}
	log.Info("Конфигурация dungeon-server загружена", fields...)
}
