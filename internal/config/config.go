// Package config loads corpussync settings.
//
// Settings are layered: built-in defaults, then an optional YAML file,
// then environment variables. The result is validated against an
// embedded CUE schema before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/corpussync/internal/registry"
)

// Environment variables read by Load.
const (
	EnvCorpus        = "PLOS_CORPUS"
	EnvStoreBackend  = "CORPUSSYNC_STORE_BACKEND"
	EnvDraftsBackend = "CORPUSSYNC_DRAFTS_BACKEND"
	EnvRedisURL      = "CORPUSSYNC_REDIS_URL"
	EnvKafkaBrokers  = "CORPUSSYNC_KAFKA_BROKERS"
	EnvKafkaTopic    = "CORPUSSYNC_KAFKA_TOPIC"
	EnvFetchWorkers  = "CORPUSSYNC_FETCH_WORKERS"
	EnvArticleBase   = "CORPUSSYNC_ARTICLE_BASE"
	EnvSearchBase    = "CORPUSSYNC_SEARCH_BASE"
	EnvSpillDir      = "CORPUSSYNC_SPILL_DIR"
)

// DefaultCorpusDir is used when neither the file nor PLOS_CORPUS names one.
const DefaultCorpusDir = "allofplos_xml"

// stateDirName is created inside the corpus directory.
const stateDirName = ".corpussync"

// Duration is a time.Duration written as a Go duration string ("30s",
// "528h").
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the effective configuration.
type Config struct {
	CorpusDir string `yaml:"corpus_dir" json:"corpus_dir"`
	StateDir  string `yaml:"state_dir" json:"state_dir"`

	Store struct {
		Backend    string `yaml:"backend" json:"backend"`
		SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	} `yaml:"store" json:"store"`

	Drafts struct {
		Backend     string `yaml:"backend" json:"backend"`
		Path        string `yaml:"path" json:"path"`
		RedisURL    string `yaml:"redis_url" json:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
	} `yaml:"drafts" json:"drafts"`

	Registry struct {
		ArticleBase    string   `yaml:"article_base" json:"article_base"`
		SearchBase     string   `yaml:"search_base" json:"search_base"`
		TermsLimit     int      `yaml:"terms_limit" json:"terms_limit"`
		RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`
		UserAgent      string   `yaml:"user_agent" json:"user_agent"`
	} `yaml:"registry" json:"registry"`

	Fetch struct {
		Workers        int      `yaml:"workers" json:"workers"`
		MaxAttempts    int      `yaml:"max_attempts" json:"max_attempts"`
		InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff"`
		MaxBackoff     Duration `yaml:"max_backoff" json:"max_backoff"`
	} `yaml:"fetch" json:"fetch"`

	Merge struct {
		Workers int `yaml:"workers" json:"workers"`
	} `yaml:"merge" json:"merge"`

	Staging struct {
		SpillDir string `yaml:"spill_dir" json:"spill_dir"`
	} `yaml:"staging" json:"staging"`

	Events struct {
		KafkaBrokers []string `yaml:"kafka_brokers" json:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic" json:"kafka_topic"`
	} `yaml:"events" json:"events"`

	StaleDraftAge Duration `yaml:"stale_draft_age" json:"stale_draft_age"`
	LedgerPath    string   `yaml:"ledger_path" json:"ledger_path"`

	Watch struct {
		Interval Duration `yaml:"interval" json:"interval"`
		Listen   string   `yaml:"listen" json:"listen"`
	} `yaml:"watch" json:"watch"`
}

// Default returns the built-in configuration. Paths under the state
// directory are filled in by Load once the corpus directory is known.
func Default() *Config {
	c := &Config{CorpusDir: DefaultCorpusDir}
	c.Store.Backend = "fs"
	c.Drafts.Backend = "file"
	c.Drafts.RedisPrefix = "corpussync"
	c.Registry.ArticleBase = registry.DefaultArticleBase
	c.Registry.SearchBase = registry.DefaultSearchBase
	c.Registry.TermsLimit = registry.DefaultTermsLimit
	c.Registry.RequestTimeout = Duration(60 * time.Second)
	c.Registry.UserAgent = registry.DefaultUserAgent
	c.Fetch.Workers = 8
	c.Fetch.MaxAttempts = 4
	c.Fetch.InitialBackoff = Duration(500 * time.Millisecond)
	c.Fetch.MaxBackoff = Duration(30 * time.Second)
	c.Merge.Workers = 4
	c.Events.KafkaBrokers = []string{}
	c.StaleDraftAge = Duration(22 * 24 * time.Hour)
	c.Watch.Interval = Duration(24 * time.Hour)
	c.Watch.Listen = ":9464"
	return c
}

// Load builds the effective configuration. path may be empty. getenv is
// usually os.Getenv; tests pass a map lookup.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(c, getenv); err != nil {
		return nil, err
	}
	c.resolvePaths()

	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config, getenv func(string) string) error {
	if v := getenv(EnvCorpus); v != "" {
		c.CorpusDir = expandHome(v)
	}
	if v := getenv(EnvStoreBackend); v != "" {
		c.Store.Backend = v
	}
	if v := getenv(EnvDraftsBackend); v != "" {
		c.Drafts.Backend = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Drafts.RedisURL = v
	}
	if v := getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Events.KafkaBrokers = brokers
	}
	if v := getenv(EnvKafkaTopic); v != "" {
		c.Events.KafkaTopic = v
	}
	if v := getenv(EnvFetchWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFetchWorkers, err)
		}
		c.Fetch.Workers = n
	}
	if v := getenv(EnvArticleBase); v != "" {
		c.Registry.ArticleBase = strings.TrimRight(v, "/")
	}
	if v := getenv(EnvSearchBase); v != "" {
		c.Registry.SearchBase = strings.TrimRight(v, "/")
	}
	if v := getenv(EnvSpillDir); v != "" {
		c.Staging.SpillDir = v
	}
	return nil
}

// resolvePaths fills state paths that were left empty.
func (c *Config) resolvePaths() {
	c.CorpusDir = expandHome(c.CorpusDir)
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.CorpusDir, stateDirName)
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.StateDir, "corpus.db")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = c.Store.SQLitePath
	}
	if c.Drafts.Path == "" {
		c.Drafts.Path = filepath.Join(c.StateDir, "uncorrected_proofs_list.txt")
	}
	if c.Events.KafkaBrokers == nil {
		c.Events.KafkaBrokers = []string{}
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")
