// Package config loads collection-run configuration from command-line flags, environment
// variables, a .env file and an optional YAML project file.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/revealrank/revealrank/internal/domain"
	"github.com/revealrank/revealrank/internal/validation"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Project ProjectConfig
	Fetch   FetchConfig
	Reveal  RevealConfig
	Rarity  RarityConfig
	Storage StorageConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `yaml:"environment" validate:"oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// ProjectConfig identifies the collection and the ID range to fetch.
type ProjectConfig struct {
	Key         string `yaml:"key" validate:"required"`
	FirstID     int    `yaml:"first_id" validate:"gte=0"`
	LastID      int    `yaml:"last_id" validate:"gtefield=FirstID"`
	URITemplate string `yaml:"uri_template" validate:"omitempty,idtemplate"`
}

// FetchConfig holds fetch pipeline configuration.
type FetchConfig struct {
	Concurrency        int           `yaml:"concurrency" validate:"gt=0,lte=1000"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RetryDelay         time.Duration `yaml:"retry_delay" validate:"gte=0"`
	RetryAfterFallback time.Duration `yaml:"retry_after_fallback" validate:"gte=0"`
	MaxAttempts        int           `yaml:"max_attempts" validate:"gte=0"` // 0 = unbounded
	MaxElapsed         time.Duration `yaml:"max_elapsed" validate:"gte=0"`  // 0 = unbounded
	RequestsPerSecond  float64       `yaml:"requests_per_second" validate:"gte=0"`
	IPFSGateway        string        `yaml:"ipfs_gateway" validate:"omitempty,url"`
	UseCache           bool          `yaml:"use_cache"`
}

// RevealConfig holds reveal polling configuration.
type RevealConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SampleIDs []int         `yaml:"sample_ids" validate:"required_if=Enabled true,dive,gte=0"`
	Interval  time.Duration `yaml:"interval" validate:"gt=0"`
}

// RarityConfig holds scoring configuration.
type RarityConfig struct {
	ScoreKey        string `yaml:"score_key" validate:"scorekey"`
	IncludeNumeric  bool   `yaml:"include_numeric"`
	CheckpointEvery int    `yaml:"checkpoint_every" validate:"gte=0"`
	// Rescore re-ranks the stored project under ScoreKey instead of fetching.
	Rescore bool `yaml:"-"`
}

// StorageConfig holds on-disk locations. Empty paths disable the component.
type StorageConfig struct {
	CacheFile  string `yaml:"cache_file"`
	StorePath  string `yaml:"store_path"`
	ExportPath string `yaml:"export_path"`
	// Reset drops the stored project and ignores the cache snapshot before a run.
	Reset bool `yaml:"-"`
}

// projectFile is the YAML shape of a project file. Durations are strings.
type projectFile struct {
	Project ProjectConfig `yaml:"project"`
	Fetch   struct {
		Concurrency        int     `yaml:"concurrency"`
		RequestTimeout     string  `yaml:"request_timeout"`
		RetryDelay         string  `yaml:"retry_delay"`
		RetryAfterFallback string  `yaml:"retry_after_fallback"`
		MaxAttempts        int     `yaml:"max_attempts"`
		MaxElapsed         string  `yaml:"max_elapsed"`
		RequestsPerSecond  float64 `yaml:"requests_per_second"`
		IPFSGateway        string  `yaml:"ipfs_gateway"`
		UseCache           *bool   `yaml:"use_cache"`
	} `yaml:"fetch"`
	Reveal struct {
		Enabled   *bool  `yaml:"enabled"`
		SampleIDs []int  `yaml:"sample_ids"`
		Interval  string `yaml:"interval"`
	} `yaml:"reveal"`
	Rarity struct {
		ScoreKey        string `yaml:"score_key"`
		IncludeNumeric  *bool  `yaml:"include_numeric"`
		CheckpointEvery int    `yaml:"checkpoint_every"`
	} `yaml:"rarity"`
	Storage StorageConfig `yaml:"storage"`
}

// LoadConfig loads configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. YAML project file.
// 5. Default values (lowest priority).
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("revealrank", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")
	projectPath := fs.String("project-file", "", "Path to YAML project file")

	projectKey := fs.String("project", "", "Project key (cache and lock namespace)")
	firstID := fs.String("first-id", "", "First item ID")
	lastID := fs.String("last-id", "", "Last item ID")
	uriTemplate := fs.String("uri-template", "", "Item URI template containing {id}")

	concurrency := fs.String("concurrency", "", "Max in-flight requests (default: 20)")
	requestTimeout := fs.String("request-timeout", "", "Per-request timeout (default: 10s)")
	retryDelay := fs.String("retry-delay", "", "Delay before retrying a transient failure (default: 1s)")
	retryAfter := fs.String("retry-after-fallback", "", "Delay after 429 without Retry-After (default: 5s)")
	maxAttempts := fs.String("max-attempts", "", "Max attempts per item, 0 = unbounded")
	maxElapsed := fs.String("max-elapsed", "", "Max time per item including retries, 0 = unbounded")
	rps := fs.String("rps", "", "Per-host request rate, 0 = unlimited")
	ipfsGateway := fs.String("ipfs-gateway", "", "Gateway for ipfs:// URIs")
	useCache := fs.String("use-cache", "", "Serve items from the cache when present (default: true)")

	revealEnabled := fs.String("reveal", "", "Wait for reveal before fetching (default: false)")
	revealSample := fs.String("reveal-sample", "", "Comma-separated sample IDs for reveal polling")
	revealInterval := fs.String("reveal-interval", "", "Reveal polling interval (default: 30s)")

	scoreKey := fs.String("score-key", "", "Score variant used for ranking (default: rarityNormalized)")
	includeNumeric := fs.String("include-numeric", "", "Score numeric attributes (default: false)")
	checkpointEvery := fs.String("checkpoint-every", "", "Recompute and persist every N items (default: 500)")
	rescore := fs.String("rescore", "", "Re-rank the stored project under -score-key without fetching")

	cacheFile := fs.String("cache-file", "", "Cache snapshot path (.zst for compressed)")
	storePath := fs.String("store-path", "", "Badger directory for item snapshots")
	exportPath := fs.String("export-path", "", "SQLite file for ranked export")
	reset := fs.String("reset", "", "Forget the stored project and cache snapshot before fetching")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// A missing .env file is not an error.
	_ = loadEnvFile(*envFile)

	var file projectFile
	if p := getConfigValue(*projectPath, "PROJECT_FILE", ""); p != "" {
		if err := loadProjectFile(p, &file); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		App:    AppConfig{Environment: getConfigValue(*env, "ENV", "development")},
		Logger: LoggerConfig{Level: getConfigValue(*logLevel, "LOG_LEVEL", "info")},
		Project: ProjectConfig{
			Key:         getConfigValue(*projectKey, "PROJECT_KEY", file.Project.Key),
			URITemplate: getConfigValue(*uriTemplate, "URI_TEMPLATE", file.Project.URITemplate),
		},
		Fetch: FetchConfig{
			IPFSGateway: getConfigValue(*ipfsGateway, "IPFS_GATEWAY", orString(file.Fetch.IPFSGateway, "https://ipfs.io/ipfs/")),
			UseCache:    getBoolConfigValue(*useCache, "USE_CACHE", orBool(file.Fetch.UseCache, true)),
		},
		Reveal: RevealConfig{
			Enabled: getBoolConfigValue(*revealEnabled, "REVEAL", orBool(file.Reveal.Enabled, false)),
		},
		Rarity: RarityConfig{
			ScoreKey:       getConfigValue(*scoreKey, "SCORE_KEY", orString(file.Rarity.ScoreKey, string(domain.ScoreRarityNormalized))),
			IncludeNumeric: getBoolConfigValue(*includeNumeric, "INCLUDE_NUMERIC", orBool(file.Rarity.IncludeNumeric, false)),
			Rescore:        getBoolConfigValue(*rescore, "RESCORE", false),
		},
		Storage: StorageConfig{
			CacheFile:  getConfigValue(*cacheFile, "CACHE_FILE", file.Storage.CacheFile),
			StorePath:  getConfigValue(*storePath, "STORE_PATH", file.Storage.StorePath),
			ExportPath: getConfigValue(*exportPath, "EXPORT_PATH", file.Storage.ExportPath),
			Reset:      getBoolConfigValue(*reset, "RESET", false),
		},
	}

	var err error
	ints := []struct {
		dst      *int
		flag     string
		env      string
		fallback int
	}{
		{&cfg.Project.FirstID, *firstID, "FIRST_ID", file.Project.FirstID},
		{&cfg.Project.LastID, *lastID, "LAST_ID", file.Project.LastID},
		{&cfg.Fetch.Concurrency, *concurrency, "CONCURRENCY", orInt(file.Fetch.Concurrency, 20)},
		{&cfg.Fetch.MaxAttempts, *maxAttempts, "MAX_ATTEMPTS", file.Fetch.MaxAttempts},
		{&cfg.Rarity.CheckpointEvery, *checkpointEvery, "CHECKPOINT_EVERY", orInt(file.Rarity.CheckpointEvery, 500)},
	}
	for _, v := range ints {
		if *v.dst, err = getIntConfigValue(v.flag, v.env, v.fallback); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		env      string
		fallback string
	}{
		{&cfg.Fetch.RequestTimeout, *requestTimeout, "REQUEST_TIMEOUT", orString(file.Fetch.RequestTimeout, "10s")},
		{&cfg.Fetch.RetryDelay, *retryDelay, "RETRY_DELAY", orString(file.Fetch.RetryDelay, "1s")},
		{&cfg.Fetch.RetryAfterFallback, *retryAfter, "RETRY_AFTER_FALLBACK", orString(file.Fetch.RetryAfterFallback, "5s")},
		{&cfg.Fetch.MaxElapsed, *maxElapsed, "MAX_ELAPSED", orString(file.Fetch.MaxElapsed, "0s")},
		{&cfg.Reveal.Interval, *revealInterval, "REVEAL_INTERVAL", orString(file.Reveal.Interval, "30s")},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flag, d.env, d.fallback)
		if *d.dst, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid duration %s=%q: %w", d.env, raw, err)
		}
	}

	rpsRaw := getConfigValue(*rps, "REQUESTS_PER_SECOND", "")
	cfg.Fetch.RequestsPerSecond = file.Fetch.RequestsPerSecond
	if rpsRaw != "" {
		if cfg.Fetch.RequestsPerSecond, err = strconv.ParseFloat(rpsRaw, 64); err != nil {
			return nil, fmt.Errorf("invalid REQUESTS_PER_SECOND %q: %w", rpsRaw, err)
		}
	}

	cfg.Reveal.SampleIDs = file.Reveal.SampleIDs
	if raw := getConfigValue(*revealSample, "REVEAL_SAMPLE", ""); raw != "" {
		if cfg.Reveal.SampleIDs, err = parseIDList(raw); err != nil {
			return nil, err
		}
	}

	for _, p := range []*string{&cfg.Storage.CacheFile, &cfg.Storage.StorePath, &cfg.Storage.ExportPath} {
		if *p, err = expandPath(*p); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return validation.New().Validate(c)
}

// ScoreKey returns the configured score variant.
func (c *Config) ScoreKey() domain.ScoreKey {
	k, err := domain.ParseScoreKey(c.Rarity.ScoreKey)
	if err != nil {
		return domain.ScoreRarityNormalized
	}
	return k
}

func loadProjectFile(path string, dst *projectFile) error {
	data, err := os.ReadFile(path) //#nosec G304 -- project file path is operator input
	if err != nil {
		return fmt.Errorf("read project file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse project file %s: %w", path, err)
	}
	return nil
}

func parseIDList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid sample id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// expandPath expands ~ and makes non-empty paths absolute.
func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts "true", "1", "yes" (case-insensitive) as true.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	s := getConfigValue(flagValue, envKey, "")
	if s == "" {
		return defaultValue
	}
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	s := getConfigValue(flagValue, envKey, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, s, err)
	}
	return v, nil
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func orBool(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}

// loadEnvFile loads KEY=value lines from a .env file without overriding the environment.
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- .env path is operator input
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Join(fmt.Errorf("read %s", path), err)
	}
	return nil
}
