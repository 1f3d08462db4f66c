package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roomchat/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
		if dir == "" {
			dir = "/"
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config holds the chat gateway settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Server
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	// Realtime store (Redis)
	StoreURL string `yaml:"-"`

	// Marketplace REST backend. Empty disables the durable message mirror
	// and the room endpoints.
	BackendURL string `yaml:"-"`

	// JWTSecret validates the Bearer token presented on WebSocket connect.
	JWTSecret string `yaml:"-"`

	// Typing
	TypingExpiry   time.Duration `yaml:"-"`
	TypingThrottle time.Duration `yaml:"-"`

	// WebSocket
	MaxWSConnections int `yaml:"max_ws_connections"`

	// CORS
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

// yamlConfig — промежуточная структура для парсинга YAML.
type yamlConfig struct {
	ServerAddr         string `yaml:"server_addr"`
	ReadTimeout        int    `yaml:"read_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	IdleTimeout        int    `yaml:"idle_timeout"`
	TypingExpiryMS     int    `yaml:"typing_expiry_ms"`
	TypingThrottleMS   int    `yaml:"typing_throttle_ms"`
	MaxWSConnections   int    `yaml:"max_ws_connections"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
}

// Load loads the configuration: .env first (if present), then YAML, then
// environment variables on top.
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		WriteTimeout:       15,
		IdleTimeout:        60,
		TypingExpiryMS:     3000,
		TypingThrottleMS:   500,
		MaxWSConnections:   10000,
		CORSAllowedOrigins: "*",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/chat.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := &Config{
		ServerAddr:         envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:        time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout:       time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:        time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		StoreURL:           envStr("STORE_REDIS_URL", "redis://localhost:6379"),
		BackendURL:         envStr("BACKEND_URL", ""),
		JWTSecret:          envStr("JWT_SECRET", ""),
		TypingExpiry:       time.Duration(envInt("TYPING_EXPIRY_MS", yc.TypingExpiryMS)) * time.Millisecond,
		TypingThrottle:     time.Duration(envInt("TYPING_THROTTLE_MS", yc.TypingThrottleMS)) * time.Millisecond,
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.JWTSecret == "" {
			logger.Errorf("config: в production задайте JWT_SECRET")
			os.Exit(1)
		}
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
		}
	}

	return cfg
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
