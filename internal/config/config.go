package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v2"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
)

var departmentPattern = regexp.MustCompile(`^(0[1-9]|[1-8][0-9]|9[0-5]|2A|2B|97[1-6])$`)

// SourceConfig holds the per-source switches and limits.
type SourceConfig struct {
	Enabled  bool
	MaxPages int
	// DateStart and DateEnd bound sampling dates, inclusive. Zero means unbounded.
	DateStart time.Time
	DateEnd   time.Time
}

// Config holds all run settings, populated from environment variables and an
// optional YAML file.
type Config struct {
	Department string

	HubEauBaseURL    string
	PageSize         int
	RequestTimeout   time.Duration
	MaxRetries       int
	RetryWait        time.Duration
	StationsMaxPages int
	DateWindowYears  int
	Sources          map[domain.Source]SourceConfig

	CacheDir      string
	CacheRedisURL string
	CacheRedisTTL time.Duration
	ForceRefresh  bool
	Offline       bool

	PesticideCodesFile string
	ThresholdsFile     string
	OutputGeoJSON      string
	OutputSummaryCSV   string
	OutputTop10        string
	OutputHotspots     string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	KafkaBrokers   []string
	KafkaSinkTopic string
}

// KafkaEnabled reports whether exported features are published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// fileConfig is the YAML overlay named by CONFIG_FILE. Environment variables
// take precedence over it.
type fileConfig struct {
	Department string                      `yaml:"departement"`
	Sources    map[string]fileSourceConfig `yaml:"sources"`
	Ref        struct {
		PesticideCodesFile string `yaml:"parametres_pesticides"`
		ThresholdsFile     string `yaml:"seuils_pesticides"`
	} `yaml:"ref"`
	Output struct {
		GeoJSON    string `yaml:"geojson"`
		SummaryCSV string `yaml:"summary_csv"`
		Top10      string `yaml:"top10"`
		Hotspots   string `yaml:"hotspots"`
	} `yaml:"output"`
	Cache struct {
		Dir      string `yaml:"dir"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"cache"`
	DateWindowYears *int `yaml:"date_window_years"`
}

type fileSourceConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	MaxPages  int    `yaml:"max_pages"`
	DateStart string `yaml:"date_start"`
	DateEnd   string `yaml:"date_end"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse CONFIG_FILE: %w", err)
	}
	return fc, nil
}

// Load reads configuration, applying defaults where unset. Any invalid value is
// reported before the run touches the network.
func Load() (*Config, error) {
	fc, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	department, err := parseDepartment(sharedcfg.EnvOrDefault("DEPARTEMENT", orDefault(fc.Department, "21")))
	if err != nil {
		return nil, err
	}

	windowDefault := "10"
	if fc.DateWindowYears != nil {
		windowDefault = strconv.Itoa(*fc.DateWindowYears)
	}

	var errs []error
	ints := func(key, def string, lo, hi int) int {
		v, err := parseIntRange(key, def, lo, hi)
		errs = append(errs, err)
		return v
	}
	durations := func(key, def string) time.Duration {
		v, err := parseDuration(key, def)
		errs = append(errs, err)
		return v
	}
	bools := func(key string, def bool) bool {
		v, err := parseBool(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := &Config{
		Department:       department,
		HubEauBaseURL:    sharedcfg.EnvOrDefault("HUBEAU_BASE_URL", "https://hubeau.eaufrance.fr/api"),
		PageSize:         ints("HUBEAU_PAGE_SIZE", "1000", 1, 20000),
		RequestTimeout:   durations("HUBEAU_TIMEOUT", "60s"),
		MaxRetries:       ints("HUBEAU_MAX_RETRIES", "3", 0, 10),
		RetryWait:        durations("HUBEAU_RETRY_WAIT", "2s"),
		StationsMaxPages: ints("STATIONS_MAX_PAGES", "50", 1, 10000),
		DateWindowYears:  ints("DATE_WINDOW_YEARS", windowDefault, 0, 100),

		CacheDir:      sharedcfg.EnvOrDefault("CACHE_DIR", orDefault(fc.Cache.Dir, "data/cache")),
		CacheRedisURL: sharedcfg.EnvOrDefault("CACHE_REDIS_URL", fc.Cache.RedisURL),
		ForceRefresh:  bools("FORCE_REFRESH", false),
		Offline:       bools("OFFLINE", false),

		PesticideCodesFile: sharedcfg.EnvOrDefault("PESTICIDE_CODES_FILE", orDefault(fc.Ref.PesticideCodesFile, "data/ref/parametres_pesticides.csv")),
		ThresholdsFile:     sharedcfg.EnvOrDefault("THRESHOLDS_FILE", orDefault(fc.Ref.ThresholdsFile, "data/ref/seuils_pesticides.csv")),
		OutputGeoJSON:      sharedcfg.EnvOrDefault("OUTPUT_GEOJSON", orDefault(fc.Output.GeoJSON, "data/sig/analyse_stations_ppp.geojson")),
		OutputSummaryCSV:   sharedcfg.EnvOrDefault("OUTPUT_SUMMARY_CSV", orDefault(fc.Output.SummaryCSV, "data/sig/agregations_ppp_par_annee.csv")),
		OutputTop10:        sharedcfg.EnvOrDefault("OUTPUT_TOP10_GEOJSON", orDefault(fc.Output.Top10, "data/sig/top10_ppp_par_annee.geojson")),
		OutputHotspots:     sharedcfg.EnvOrDefault("OUTPUT_HOTSPOTS_GEOJSON", orDefault(fc.Output.Hotspots, "data/sig/hotspots_ppp.geojson")),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:   sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "water-quality-features"),
	}
	if os.Getenv("CACHE_REDIS_TTL") != "" {
		cfg.CacheRedisTTL = durations("CACHE_REDIS_TTL", "0s")
	}

	cfg.Sources = map[domain.Source]SourceConfig{
		domain.SourceNaiades: loadSource("NAIADES", fc.Sources["naiades"], "15", cfg.DateWindowYears, &errs),
		domain.SourceADES:    loadSource("ADES", fc.Sources["ades"], "10", cfg.DateWindowYears, &errs),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Offline && cfg.ForceRefresh {
		return nil, errors.New("OFFLINE and FORCE_REFRESH are mutually exclusive")
	}
	if cfg.KafkaEnabled() && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.OutputGeoJSON == "" {
		return nil, errors.New("OUTPUT_GEOJSON is required")
	}

	return cfg, nil
}

func loadSource(prefix string, fc fileSourceConfig, maxPagesDefault string, windowYears int, errs *[]error) SourceConfig {
	enabledDefault := true
	if fc.Enabled != nil {
		enabledDefault = *fc.Enabled
	}
	if fc.MaxPages > 0 {
		maxPagesDefault = strconv.Itoa(fc.MaxPages)
	}

	enabled, err := parseBool(prefix+"_ENABLED", enabledDefault)
	*errs = append(*errs, err)
	maxPages, err := parseIntRange(prefix+"_MAX_PAGES", maxPagesDefault, 1, 10000)
	*errs = append(*errs, err)
	start, err := parseDate(prefix+"_DATE_START", fc.DateStart)
	*errs = append(*errs, err)
	end, err := parseDate(prefix+"_DATE_END", fc.DateEnd)
	*errs = append(*errs, err)

	if start.IsZero() {
		start = domain.WindowStart(windowYears)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		*errs = append(*errs, fmt.Errorf("%s_DATE_START %s is after %s_DATE_END %s",
			prefix, domain.FormatDate(start), prefix, domain.FormatDate(end)))
	}

	return SourceConfig{Enabled: enabled, MaxPages: maxPages, DateStart: start, DateEnd: end}
}

func parseDepartment(s string) (string, error) {
	dep := strings.ToUpper(strings.TrimSpace(s))
	if len(dep) == 1 {
		dep = "0" + dep
	}
	if dep == "20" || !departmentPattern.MatchString(dep) {
		return "", fmt.Errorf("invalid DEPARTEMENT %q", s)
	}
	return dep, nil
}

func parseIntRange(key, def string, lo, hi int) (int, error) {
	raw := sharedcfg.EnvOrDefault(key, def)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s %q: must be an integer in [%d, %d]", key, raw, lo, hi)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	raw := sharedcfg.EnvOrDefault(key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, raw)
	}
	return b, nil
}

func parseDate(key, def string) (time.Time, error) {
	raw := strings.TrimSpace(sharedcfg.EnvOrDefault(key, def))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", key, raw)
	}
	return t, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
