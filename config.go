package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every recognized environment option. It is loaded once at
// startup and passed explicitly to the components that need it.
type Config struct {
	// Chat front-end.
	DiscordBotToken   string
	DiscordChannelIDs string

	// Remote browser endpoint (e.g. a browserless deployment). When empty
	// the session controller launches a local headless Chrome instead.
	BrowserWSEndpoint string
	BrowserToken      string

	// Authentication material for the scrape target. Cookies win over the
	// scripted login when both are configured.
	CookiesJSON  string // inline JSON payload
	CookiesFile  string // path to a JSON file, used when CookiesJSON is empty
	SiteUsername string
	SitePassword string

	ProxyURL string

	DBPath     string
	StatusAddr string

	ScrapeInterval    time.Duration
	MaxScrollAttempts int
	StallThreshold    int
	PageLoadTimeout   time.Duration
	SettleDelay       time.Duration
}

// loadConfig reads .env (if present) and the process environment.
// Missing optional values fall back to defaults; nothing here is fatal, the
// components that need a value warn and degrade when it is absent.
func loadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[I] [Config] No .env file found, using environment only.")
	}

	cfg := Config{
		DiscordBotToken:   os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannelIDs: os.Getenv("DISCORD_CHANNEL_IDS"),
		BrowserWSEndpoint: os.Getenv("BROWSER_WS_ENDPOINT"),
		BrowserToken:      os.Getenv("BROWSER_TOKEN"),
		CookiesJSON:       os.Getenv("COOKIES_JSON"),
		CookiesFile:       envOr("COOKIES_FILE", "cookies.json"),
		SiteUsername:      os.Getenv("SITE_USERNAME"),
		SitePassword:      os.Getenv("SITE_PASSWORD"),
		ProxyURL:          os.Getenv("PROXY_URL"),
		DBPath:            envOr("DB_PATH", "./boostbot.db"),
		StatusAddr:        envOr("STATUS_ADDR", ":8080"),
		ScrapeInterval:    time.Duration(envInt("SCRAPE_INTERVAL_MINUTES", 10)) * time.Minute,
		MaxScrollAttempts: envInt("MAX_SCROLL_ATTEMPTS", 20),
		StallThreshold:    envInt("STALL_THRESHOLD", 3),
		PageLoadTimeout:   time.Duration(envInt("PAGE_LOAD_TIMEOUT_SECONDS", 30)) * time.Second,
		SettleDelay:       time.Duration(envInt("SETTLE_DELAY_SECONDS", 2)) * time.Second,
	}

	if cfg.MaxScrollAttempts < 1 {
		cfg.MaxScrollAttempts = 1
	}
	if cfg.StallThreshold < 1 {
		cfg.StallThreshold = 1
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[W] [Config] Ignoring non-numeric %s=%q, using %d.", key, v, fallback)
		return fallback
	}
	return n
}
