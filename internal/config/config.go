package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"momcal/internal/model"
)

// CalendarConfig describes the public calendar feed and how it is refreshed.
type CalendarConfig struct {
	// Name is used as X-WR-CALNAME of the re-published feed.
	Name string `yaml:"name" json:"name"`
	// ICSURL is the canonical public ICS endpoint.
	ICSURL string `yaml:"ics_url" json:"ics_url"`
	// Proxies is the ordered list of CORS-proxy URL templates tried before a
	// direct request. A template ending in "http://" or "https://" gets the
	// raw feed URL appended; any other template gets it query-escaped.
	Proxies []string `yaml:"proxies" json:"proxies"`

	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	StaleAfter   time.Duration `yaml:"stale_after" json:"stale_after"`

	// RefreshCron drives the periodic staleness check (e.g. "*/5 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	ExpandRecurring bool `yaml:"expand_recurring" json:"expand_recurring"`
	HorizonDays     int  `yaml:"horizon_days" json:"horizon_days"`

	// StableIDs derives event ids from (title, start, end) instead of
	// generating random ones on every parse.
	StableIDs bool `yaml:"stable_ids" json:"stable_ids"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// CacheConfig selects the snapshot store.
type CacheConfig struct {
	// Backend is one of "file", "sqlite", "redis", "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the directory (file) or database file (sqlite).
	Path      string `yaml:"path" json:"path"`
	Key       string `yaml:"key" json:"key"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
}

// VideosConfig feeds the video gallery.
type VideosConfig struct {
	IDs         []string      `yaml:"ids" json:"ids"`
	ChannelFeed string        `yaml:"channel_feed" json:"channel_feed"`
	Max         int           `yaml:"max" json:"max"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
}

// SnapshotConfig controls the share-image capture.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Cron    string `yaml:"cron" json:"cron"`
	// URL of the page to capture; defaults to the local listen address.
	URL    string `yaml:"url" json:"url"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   string `yaml:"listen" json:"listen"`
	Timezone string `yaml:"timezone" json:"timezone"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// Categories are matched in order; the first keyword hit wins.
	Categories      []model.Category `yaml:"categories" json:"categories"`
	DefaultCategory string           `yaml:"default_category" json:"default_category"`

	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Videos   VideosConfig   `yaml:"videos" json:"videos"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Europe/Berlin"
	defaultFetchTimeout = 10 * time.Second
	defaultStaleAfter   = 30 * time.Minute
	defaultRefreshCron  = "*/5 * * * *"
	defaultHorizonDays  = 365
	defaultCacheKey     = "mom-calendar-events"
	defaultCachePath    = "./var/cache"
	defaultSnapshotCron = "15 * * * *"
	defaultVideoMax     = 12
	defaultVideoTTL     = time.Hour
)

// DefaultCategories mirrors the site's service carousel.
func DefaultCategories() []model.Category {
	return []model.Category{
		{
			Key:      "kids",
			Label:    model.LocalizedString{EN: "Kids show", DE: "Kindershow"},
			Keywords: []string{"kids", "kinder", "family", "familie", "school", "schule"},
		},
		{
			Key:      "workshops",
			Label:    model.LocalizedString{EN: "Workshop", DE: "Workshop"},
			Keywords: []string{"workshop", "masterclass", "kurs", "class"},
		},
		{
			Key:      "concerts",
			Label:    model.LocalizedString{EN: "Concert", DE: "Konzert"},
			Keywords: []string{"concert", "konzert", "festival", "live", "show"},
		},
		{
			Key:      "corporate",
			Label:    model.LocalizedString{EN: "Corporate", DE: "Firmenevent"},
			Keywords: []string{"corporate", "firmen", "gala", "company"},
		},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: "info",
		Calendar: CalendarConfig{
			Name:            "MOM Events",
			ICSURL:          "https://calendar.google.com/calendar/ical/YOUR_CALENDAR_ID/public/basic.ics",
			Proxies:         []string{},
			FetchTimeout:    defaultFetchTimeout,
			StaleAfter:      defaultStaleAfter,
			RefreshCron:     defaultRefreshCron,
			ExpandRecurring: false,
			HorizonDays:     defaultHorizonDays,
			UserAgent:       "momcal/1.0",
		},
		Categories:      DefaultCategories(),
		DefaultCategory: "concerts",
		Cache: CacheConfig{
			Backend: "file",
			Path:    defaultCachePath,
			Key:     defaultCacheKey,
		},
		Videos: VideosConfig{
			IDs: []string{},
			Max: defaultVideoMax,
			TTL: defaultVideoTTL,
		},
		Snapshot: SnapshotConfig{
			Cron:   defaultSnapshotCron,
			Output: "./var/share.png",
		},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Calendar.FetchTimeout <= 0 {
		c.Calendar.FetchTimeout = defaultFetchTimeout
	}
	if c.Calendar.StaleAfter <= 0 {
		c.Calendar.StaleAfter = defaultStaleAfter
	}
	if c.Calendar.RefreshCron == "" {
		c.Calendar.RefreshCron = defaultRefreshCron
	}
	if c.Calendar.HorizonDays <= 0 {
		c.Calendar.HorizonDays = defaultHorizonDays
	}
	if c.Calendar.Proxies == nil {
		c.Calendar.Proxies = []string{}
	}

	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
	// Keyword matching is case-insensitive; keep keys and keywords lowercase.
	for i := range c.Categories {
		c.Categories[i].Key = strings.ToLower(strings.TrimSpace(c.Categories[i].Key))
		for j, kw := range c.Categories[i].Keywords {
			c.Categories[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	c.DefaultCategory = strings.ToLower(strings.TrimSpace(c.DefaultCategory))
	if c.DefaultCategory == "" {
		c.DefaultCategory = c.Categories[0].Key
	}

	switch c.Cache.Backend {
	case "file", "sqlite", "redis", "memory":
	default:
		c.Cache.Backend = "file"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = defaultCachePath
	}
	if c.Cache.Key == "" {
		c.Cache.Key = defaultCacheKey
	}

	if c.Videos.IDs == nil {
		c.Videos.IDs = []string{}
	}
	if c.Videos.Max <= 0 {
		c.Videos.Max = defaultVideoMax
	}
	if c.Videos.TTL <= 0 {
		c.Videos.TTL = defaultVideoTTL
	}

	if c.Snapshot.Cron == "" {
		c.Snapshot.Cron = defaultSnapshotCron
	}
	if c.Snapshot.URL == "" {
		c.Snapshot.URL = "http://" + c.Listen + "/"
	}
	if c.Snapshot.Output == "" {
		c.Snapshot.Output = "./var/share.png"
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".momcal-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file next to path, syncs it, sets
// 0600 and renames it over path. The cache's file store uses it as well.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
