package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Store struct {
		// Driver is postgres, sqlite or memory.
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Room struct {
		Mode       string `yaml:"mode"`
		SendBuffer int    `yaml:"send_buffer"`
	} `yaml:"room"`
	Relay struct {
		// Mode is outbox (Postgres outbox + JetStream) or inline.
		Mode    string `yaml:"mode"`
		NATSURL string `yaml:"nats_url"`
	} `yaml:"relay"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Content struct {
		File string `yaml:"file"`
	} `yaml:"content"`
	JWTSecret string `yaml:"-"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv lets the environment override the file.
func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", defaultString(c.Server.Port, "8080"))
	c.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", defaultString(c.Store.Driver, "memory")))
	c.Store.SQLitePath = getEnv("SQLITE_PATH", defaultString(c.Store.SQLitePath, "roundsync.db"))
	c.Room.Mode = getEnv("ROOM_MODE", defaultString(c.Room.Mode, "sync"))
	c.Room.SendBuffer = getEnvAsInt("ROOM_SEND_BUFFER", c.Room.SendBuffer)
	c.Relay.Mode = strings.ToLower(getEnv("RELAY_MODE", defaultString(c.Relay.Mode, "inline")))
	c.Relay.NATSURL = getEnv("NATS_URL", c.Relay.NATSURL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Content.File = getEnv("CONTENT_FILE", c.Content.File)
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Relay.Mode {
	case "inline":
	case "outbox":
		if c.Store.Driver != "postgres" {
			return fmt.Errorf("relay mode outbox requires the postgres store driver")
		}
	default:
		return fmt.Errorf("unknown relay mode %q", c.Relay.Mode)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
