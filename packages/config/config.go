// Package config
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"sitesearch/packages/domain"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	Sites       []domain.SiteConfig

	MaxWorkers      int
	PagesChunk      int
	IndexBatchSize  int
	MaxPagesPerSite int

	FetchTimeout     time.Duration
	FetchDelay       time.Duration
	UserAgent        string
	RespectRobots    bool
	MaxBodyBytes     int64
	IgnoreExtensions []string

	Languages            []string
	SearchDefaultLimit   int
	LemmaFrequencyCutoff float64

	JobTimeout      time.Duration
	ReaperInterval  time.Duration
	ShutdownTimeout time.Duration

	ListenAddr  string
	MetricsAddr string

	LogFile  string
	LogLevel string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SearchCacheTTL time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to read .env file", "error", err)
	}

	cfg := Config{}
	var missingVars []string

	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	rawSites := getEnv("SITES", "")

	if cfg.DatabaseURL == "" {
		missingVars = append(missingVars, "DATABASE_URL")
	}
	if rawSites == "" {
		missingVars = append(missingVars, "SITES")
	}
	if len(missingVars) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %s", strings.Join(missingVars, ", "))
	}

	sites, err := ParseSites(rawSites)
	if err != nil {
		return cfg, fmt.Errorf("invalid SITES: %w", err)
	}
	cfg.Sites = sites

	cfg.MaxWorkers = getInt("MAX_WORKERS", 50)
	cfg.PagesChunk = getInt("PAGES_CHUNK", 250)
	cfg.IndexBatchSize = getInt("INDEX_BATCH_SIZE", 1000)
	cfg.MaxPagesPerSite = getInt("MAX_PAGES_PER_SITE", 0)

	cfg.FetchTimeout = getDuration("FETCH_TIMEOUT", 6*time.Second)
	cfg.FetchDelay = getDuration("FETCH_DELAY", 0)
	cfg.UserAgent = getEnv("USER_AGENT", "SiteSearchBot/1.0 (+https://example.com/bot)")
	cfg.RespectRobots, _ = strconv.ParseBool(getEnv("RESPECT_ROBOTS", "false"))
	cfg.MaxBodyBytes, err = strconv.ParseInt(getEnv("MAX_BODY_BYTES", "10485760"), 10, 64)
	if err != nil {
		slog.Warn("Invalid MAX_BODY_BYTES", "value", getEnv("MAX_BODY_BYTES", ""), "error", err)
		cfg.MaxBodyBytes = 10 << 20
	}
	cfg.IgnoreExtensions = splitList(getEnv("IGNORE_EXTENSIONS", ".pdf,.jpg,.jpeg,.png,.gif,.svg,.webp,.zip,.rar,.exe,.mp3,.mp4,.avi,.mov,.dmg,.iso,.css,.js,.xml,.json,.gz,.tar,.tgz,.doc,.docx,.xls,.xlsx"))

	cfg.Languages = splitList(getEnv("LANGUAGES", "english,russian"))
	cfg.SearchDefaultLimit = getInt("SEARCH_DEFAULT_LIMIT", 20)
	cfg.LemmaFrequencyCutoff, _ = strconv.ParseFloat(getEnv("LEMMA_FREQUENCY_CUTOFF", "0"), 64)

	cfg.JobTimeout = getDuration("JOB_TIMEOUT", 15*time.Minute)
	cfg.ReaperInterval = getDuration("REAPER_INTERVAL", time.Minute)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "0.0.0.0:9093")

	cfg.LogFile = getEnv("LOG_FILE", "logs/sitesearch.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.SearchCacheTTL = getDuration("SEARCH_CACHE_TTL", 5*time.Minute)

	return cfg, nil
}

// ParseSites parses "Name|https://host,Other|https://other" into site
// configs. The name part is optional; the host is used when it is missing.
func ParseSites(raw string) ([]domain.SiteConfig, error) {
	var sites []domain.SiteConfig
	seen := make(map[string]struct{})
	for _, entry := range splitList(raw) {
		name, rawURL, found := strings.Cut(entry, "|")
		if !found {
			rawURL, name = name, ""
		}
		rawURL = strings.TrimRight(strings.TrimSpace(rawURL), "/")
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("site %q is not an absolute http(s) URL", rawURL)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = u.Host
		}
		if _, dup := seen[rawURL]; dup {
			continue
		}
		seen[rawURL] = struct{}{}
		sites = append(sites, domain.SiteConfig{URL: rawURL, Name: name})
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("no sites configured")
	}
	return sites, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer setting", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration setting", "key", key, "value", raw, "error", err)
		return defaultVal
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
