package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env         string
	Port        int
	DatabaseURL string
	JWTSecret   string
	LogJSON     bool
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	TelegramBotToken string
	SendGridAPIKey   string
	MailFrom         string

	// Storefront client settings.
	APIBaseURL string
	StateDir   string
	Timezone   string
}

func Default() Config {
	return Config{
		Env:         "dev",
		Port:        8000,
		DatabaseURL: "",
		JWTSecret:   "",
		LogJSON:     true,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  30 * 24 * time.Hour,
		MailFrom:    "orders@flowershop.local",
		APIBaseURL:  "http://127.0.0.1:8000",
		StateDir:    defaultStateDir(),
		Timezone:    "Local",
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

// Location resolves Timezone, falling back to the machine's zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func defaultStateDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return d + string(os.PathSeparator) + "flowershop"
	}
	return ".flowershop"
}

func fromEnv(c Config) Config {
	if v := os.Getenv("FLOWERSHOP_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("FLOWERSHOP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("FLOWERSHOP_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("FLOWERSHOP_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("FLOWERSHOP_LOG_JSON"); v != "" {
		switch v {
		case "1", "true", "TRUE":
			c.LogJSON = true
		case "0", "false", "FALSE":
			c.LogJSON = false
		}
	}
	if v := os.Getenv("FLOWERSHOP_ACCESS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.AccessTTL = d
		}
	}
	if v := os.Getenv("FLOWERSHOP_REFRESH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RefreshTTL = d
		}
	}
	if v := os.Getenv("FLOWERSHOP_TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramBotToken = v
	}
	if v := os.Getenv("FLOWERSHOP_SENDGRID_API_KEY"); v != "" {
		c.SendGridAPIKey = v
	}
	if v := os.Getenv("FLOWERSHOP_MAIL_FROM"); v != "" {
		c.MailFrom = v
	}
	if v := os.Getenv("FLOWERSHOP_API_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("FLOWERSHOP_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("FLOWERSHOP_TZ"); v != "" {
		c.Timezone = v
	}
	return c
}
