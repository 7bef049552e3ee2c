package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all gpudiag configuration values.
type Config struct {
	// Collection
	SourceTimeout     time.Duration     `yaml:"source_timeout"`      // GPUDIAG_SOURCE_TIMEOUT, default: 30s
	KernelWindow      time.Duration     `yaml:"kernel_window"`       // GPUDIAG_KERNEL_WINDOW, default: 24h
	MaxKernelEvents   int               `yaml:"max_kernel_events"`   // GPUDIAG_MAX_KERNEL_EVENTS, default: 20
	FabricManagerUnit string            `yaml:"fabric_manager_unit"` // GPUDIAG_FABRIC_MANAGER_UNIT
	CommandPaths      map[string]string `yaml:"command_paths"`       // GPUDIAG_COMMAND_PATHS, name=path pairs
	ProcRoot          string            `yaml:"proc_root"`           // GPUDIAG_PROC_ROOT, default: /proc
	SysRoot           string            `yaml:"sys_root"`            // GPUDIAG_SYS_ROOT, default: /sys
	RDMAEnabled       bool              `yaml:"rdma_enabled"`        // GPUDIAG_RDMA_ENABLED, default: true
	DisabledSources   []string          `yaml:"disabled_sources"`    // GPUDIAG_DISABLED_SOURCES, comma-separated

	// Rules
	MaxTemperatureC float64 `yaml:"max_temperature_c"` // GPUDIAG_MAX_TEMPERATURE_C, default: 85

	// Output
	Hostname         string `yaml:"hostname"`          // GPUDIAG_HOSTNAME, default: os.Hostname()
	OutputPath       string `yaml:"output"`            // GPUDIAG_OUTPUT, default: "" (stdout)
	OutputFormat     string `yaml:"format"`            // GPUDIAG_FORMAT, json or text
	Compress         bool   `yaml:"compress"`          // GPUDIAG_COMPRESS, zstd, json only
	CompressionLevel int    `yaml:"compression_level"` // GPUDIAG_COMPRESSION_LEVEL, 1-4
	TextfilePath     string `yaml:"textfile_path"`     // GPUDIAG_TEXTFILE_PATH, node-exporter textfile
	Color            bool   `yaml:"color"`             // GPUDIAG_COLOR, colorize the text summary on a terminal

	// Logging
	LogLevel  string `yaml:"log_level"`  // GPUDIAG_LOG_LEVEL, default: info
	LogFormat string `yaml:"log_format"` // GPUDIAG_LOG_FORMAT, text or json

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile string `yaml:"-"`
}

// Default returns a Config with every default applied.
func Default() Config {
	hostname, _ := os.Hostname()
	return Config{
		SourceTimeout:     30 * time.Second,
		KernelWindow:      24 * time.Hour,
		MaxKernelEvents:   20,
		FabricManagerUnit: "nvidia-fabricmanager",
		CommandPaths:      map[string]string{},
		ProcRoot:          "/proc",
		SysRoot:           "/sys",
		RDMAEnabled:       true,
		MaxTemperatureC:   85,
		Hostname:          hostname,
		OutputFormat:      "text",
		CompressionLevel:  2,
		Color:             true,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// RegisterFlags defines the command line flags Load understands on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "YAML configuration file (GPUDIAG_CONFIG)")
	fs.Duration("source-timeout", d.SourceTimeout, "timeout applied to each data source")
	fs.Duration("kernel-window", d.KernelWindow, "how far back kernel log events are considered")
	fs.Int("max-kernel-events", d.MaxKernelEvents, "maximum kernel events kept (0 = unlimited)")
	fs.Float64("max-temperature", d.MaxTemperatureC, "temperature in degrees C above which a GPU warns")
	fs.String("fabric-manager-unit", d.FabricManagerUnit, "systemd unit running the fabric manager")
	fs.StringToString("command-path", nil, "override an executable location, e.g. nvidia-smi=/opt/bin/nvidia-smi")
	fs.String("proc-root", d.ProcRoot, "procfs mount point")
	fs.String("sys-root", d.SysRoot, "sysfs mount point")
	fs.Bool("rdma", d.RDMAEnabled, "check RDMA port state")
	fs.StringSlice("disable-source", nil, "source to skip (pcie, accelerator, interconnect, versions, processes, kernel_log, rdma)")
	fs.String("hostname", "", "host name recorded in the report")
	fs.StringP("output", "o", "", "write the report to this file instead of stdout")
	fs.StringP("format", "f", d.OutputFormat, "report format: json or text")
	fs.Bool("compress", false, "zstd-compress the JSON report")
	fs.Int("compression-level", d.CompressionLevel, "zstd level 1-4")
	fs.String("textfile", "", "write run metrics to this node-exporter textfile")
	fs.Bool("color", d.Color, "colorize the text summary when writing to a terminal")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
}

// Load builds the configuration from defaults, then the YAML file named by
// --config or GPUDIAG_CONFIG, then GPUDIAG_* environment variables, then any
// flag explicitly set on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	path := os.Getenv("GPUDIAG_CONFIG")
	if fs != nil && fs.Changed("config") {
		path, _ = fs.GetString("config")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)

	if fs != nil {
		if err := applyFlags(fs, &cfg); err != nil {
			return Config{}, err
		}
	}

	if cfg.CommandPaths == nil {
		cfg.CommandPaths = map[string]string{}
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.SourceTimeout = parseDuration("GPUDIAG_SOURCE_TIMEOUT", cfg.SourceTimeout)
	cfg.KernelWindow = parseDuration("GPUDIAG_KERNEL_WINDOW", cfg.KernelWindow)
	cfg.MaxKernelEvents = parseInt("GPUDIAG_MAX_KERNEL_EVENTS", cfg.MaxKernelEvents)
	cfg.FabricManagerUnit = envOrDefault("GPUDIAG_FABRIC_MANAGER_UNIT", cfg.FabricManagerUnit)
	cfg.ProcRoot = envOrDefault("GPUDIAG_PROC_ROOT", cfg.ProcRoot)
	cfg.SysRoot = envOrDefault("GPUDIAG_SYS_ROOT", cfg.SysRoot)
	cfg.RDMAEnabled = parseBool("GPUDIAG_RDMA_ENABLED", cfg.RDMAEnabled)
	if v := parseStringSlice("GPUDIAG_DISABLED_SOURCES"); v != nil {
		cfg.DisabledSources = v
	}
	for name, path := range parseKeyValues("GPUDIAG_COMMAND_PATHS") {
		if cfg.CommandPaths == nil {
			cfg.CommandPaths = map[string]string{}
		}
		cfg.CommandPaths[name] = path
	}

	cfg.MaxTemperatureC = parseFloat("GPUDIAG_MAX_TEMPERATURE_C", cfg.MaxTemperatureC)

	cfg.Hostname = envOrDefault("GPUDIAG_HOSTNAME", cfg.Hostname)
	cfg.OutputPath = envOrDefault("GPUDIAG_OUTPUT", cfg.OutputPath)
	cfg.OutputFormat = envOrDefault("GPUDIAG_FORMAT", cfg.OutputFormat)
	cfg.Compress = parseBool("GPUDIAG_COMPRESS", cfg.Compress)
	cfg.CompressionLevel = parseInt("GPUDIAG_COMPRESSION_LEVEL", cfg.CompressionLevel)
	cfg.TextfilePath = envOrDefault("GPUDIAG_TEXTFILE_PATH", cfg.TextfilePath)
	cfg.Color = parseBool("GPUDIAG_COLOR", cfg.Color)

	cfg.LogLevel = envOrDefault("GPUDIAG_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("GPUDIAG_LOG_FORMAT", cfg.LogFormat)
}

// applyFlags copies every flag the user set explicitly. Flags left at their
// default never override the file or the environment.
func applyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var errs []error
	changed := func(name string) bool {
		return fs.Lookup(name) != nil && fs.Changed(name)
	}
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if changed("source-timeout") {
		v, err := fs.GetDuration("source-timeout")
		collect(err)
		cfg.SourceTimeout = v
	}
	if changed("kernel-window") {
		v, err := fs.GetDuration("kernel-window")
		collect(err)
		cfg.KernelWindow = v
	}
	if changed("max-kernel-events") {
		v, err := fs.GetInt("max-kernel-events")
		collect(err)
		cfg.MaxKernelEvents = v
	}
	if changed("max-temperature") {
		v, err := fs.GetFloat64("max-temperature")
		collect(err)
		cfg.MaxTemperatureC = v
	}
	if changed("command-path") {
		v, err := fs.GetStringToString("command-path")
		collect(err)
		if cfg.CommandPaths == nil {
			cfg.CommandPaths = map[string]string{}
		}
		for name, path := range v {
			cfg.CommandPaths[name] = path
		}
	}
	if changed("rdma") {
		v, err := fs.GetBool("rdma")
		collect(err)
		cfg.RDMAEnabled = v
	}
	if changed("disable-source") {
		v, err := fs.GetStringSlice("disable-source")
		collect(err)
		cfg.DisabledSources = v
	}
	if changed("compress") {
		v, err := fs.GetBool("compress")
		collect(err)
		cfg.Compress = v
	}
	if changed("color") {
		v, err := fs.GetBool("color")
		collect(err)
		cfg.Color = v
	}
	if changed("compression-level") {
		v, err := fs.GetInt("compression-level")
		collect(err)
		cfg.CompressionLevel = v
	}

	strs := map[string]*string{
		"fabric-manager-unit": &cfg.FabricManagerUnit,
		"proc-root":           &cfg.ProcRoot,
		"sys-root":            &cfg.SysRoot,
		"hostname":            &cfg.Hostname,
		"output":              &cfg.OutputPath,
		"format":              &cfg.OutputFormat,
		"textfile":            &cfg.TextfilePath,
		"log-level":           &cfg.LogLevel,
		"log-format":          &cfg.LogFormat,
	}
	for name, dst := range strs {
		if !changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		collect(err)
		*dst = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: reading flags: %w", errs[0])
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func parseStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

// parseKeyValues reads "name=value,name=value". Malformed pairs are ignored.
func parseKeyValues(key string) map[string]string {
	pairs := parseStringSlice(key)
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
