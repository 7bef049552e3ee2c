package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

// helper to clear all GPUDIAG_ env vars before each test
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"GPUDIAG_CONFIG",
		"GPUDIAG_SOURCE_TIMEOUT",
		"GPUDIAG_KERNEL_WINDOW",
		"GPUDIAG_MAX_KERNEL_EVENTS",
		"GPUDIAG_FABRIC_MANAGER_UNIT",
		"GPUDIAG_COMMAND_PATHS",
		"GPUDIAG_PROC_ROOT",
		"GPUDIAG_SYS_ROOT",
		"GPUDIAG_RDMA_ENABLED",
		"GPUDIAG_DISABLED_SOURCES",
		"GPUDIAG_MAX_TEMPERATURE_C",
		"GPUDIAG_HOSTNAME",
		"GPUDIAG_OUTPUT",
		"GPUDIAG_FORMAT",
		"GPUDIAG_COMPRESS",
		"GPUDIAG_COMPRESSION_LEVEL",
		"GPUDIAG_TEXTFILE_PATH",
		"GPUDIAG_COLOR",
		"GPUDIAG_LOG_LEVEL",
		"GPUDIAG_LOG_FORMAT",
	}
	for _, v := range envVars {
		// t.Setenv restores the previous value when the test ends; the
		// parse helpers treat an empty value as unset.
		t.Setenv(v, "")
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("gpudiag", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SourceTimeout != 30*time.Second {
		t.Errorf("SourceTimeout = %v, want 30s", cfg.SourceTimeout)
	}
	if cfg.KernelWindow != 24*time.Hour {
		t.Errorf("KernelWindow = %v, want 24h", cfg.KernelWindow)
	}
	if cfg.MaxKernelEvents != 20 {
		t.Errorf("MaxKernelEvents = %d, want 20", cfg.MaxKernelEvents)
	}
	if cfg.MaxTemperatureC != 85 {
		t.Errorf("MaxTemperatureC = %v, want 85", cfg.MaxTemperatureC)
	}
	if cfg.FabricManagerUnit != "nvidia-fabricmanager" {
		t.Errorf("FabricManagerUnit = %q, want nvidia-fabricmanager", cfg.FabricManagerUnit)
	}
	if cfg.ProcRoot != "/proc" || cfg.SysRoot != "/sys" {
		t.Errorf("roots = %q, %q, want /proc, /sys", cfg.ProcRoot, cfg.SysRoot)
	}
	if !cfg.RDMAEnabled {
		t.Error("RDMAEnabled should default to true")
	}
	if cfg.OutputFormat != "text" {
		t.Errorf("OutputFormat = %q, want text", cfg.OutputFormat)
	}
	if cfg.Compress {
		t.Error("Compress should default to false")
	}
	if !cfg.Color {
		t.Error("Color should default to true")
	}
	if cfg.CommandPaths == nil {
		t.Error("CommandPaths should never be nil")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log = %q/%q, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile = %q, want empty", cfg.ConfigFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_AllEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("GPUDIAG_SOURCE_TIMEOUT", "45s")
	t.Setenv("GPUDIAG_KERNEL_WINDOW", "6h")
	t.Setenv("GPUDIAG_MAX_KERNEL_EVENTS", "5")
	t.Setenv("GPUDIAG_FABRIC_MANAGER_UNIT", "fabricmanager")
	t.Setenv("GPUDIAG_COMMAND_PATHS", "nvidia-smi=/opt/nvidia/bin/nvidia-smi, nvcc=/usr/local/cuda/bin/nvcc,bogus")
	t.Setenv("GPUDIAG_PROC_ROOT", "/host/proc")
	t.Setenv("GPUDIAG_SYS_ROOT", "/host/sys")
	t.Setenv("GPUDIAG_RDMA_ENABLED", "false")
	t.Setenv("GPUDIAG_DISABLED_SOURCES", "versions, kernel_log")
	t.Setenv("GPUDIAG_MAX_TEMPERATURE_C", "80.5")
	t.Setenv("GPUDIAG_HOSTNAME", "gpu-node-07")
	t.Setenv("GPUDIAG_OUTPUT", "/var/lib/gpudiag/report.json.zst")
	t.Setenv("GPUDIAG_FORMAT", "json")
	t.Setenv("GPUDIAG_COMPRESS", "true")
	t.Setenv("GPUDIAG_COMPRESSION_LEVEL", "3")
	t.Setenv("GPUDIAG_TEXTFILE_PATH", "/var/lib/node_exporter/gpudiag.prom")
	t.Setenv("GPUDIAG_LOG_LEVEL", "debug")
	t.Setenv("GPUDIAG_LOG_FORMAT", "json")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SourceTimeout != 45*time.Second {
		t.Errorf("SourceTimeout = %v, want 45s", cfg.SourceTimeout)
	}
	if cfg.KernelWindow != 6*time.Hour {
		t.Errorf("KernelWindow = %v, want 6h", cfg.KernelWindow)
	}
	if cfg.MaxKernelEvents != 5 {
		t.Errorf("MaxKernelEvents = %d, want 5", cfg.MaxKernelEvents)
	}
	if cfg.FabricManagerUnit != "fabricmanager" {
		t.Errorf("FabricManagerUnit = %q, want fabricmanager", cfg.FabricManagerUnit)
	}
	if got := cfg.CommandPaths["nvidia-smi"]; got != "/opt/nvidia/bin/nvidia-smi" {
		t.Errorf("CommandPaths[nvidia-smi] = %q", got)
	}
	if got := cfg.CommandPaths["nvcc"]; got != "/usr/local/cuda/bin/nvcc" {
		t.Errorf("CommandPaths[nvcc] = %q", got)
	}
	if _, ok := cfg.CommandPaths["bogus"]; ok {
		t.Error("malformed command path pair should be ignored")
	}
	if cfg.ProcRoot != "/host/proc" || cfg.SysRoot != "/host/sys" {
		t.Errorf("roots = %q, %q", cfg.ProcRoot, cfg.SysRoot)
	}
	if cfg.RDMAEnabled {
		t.Error("RDMAEnabled = true, want false")
	}
	if len(cfg.DisabledSources) != 2 || cfg.DisabledSources[0] != "versions" || cfg.DisabledSources[1] != "kernel_log" {
		t.Errorf("DisabledSources = %v, want [versions kernel_log]", cfg.DisabledSources)
	}
	if cfg.MaxTemperatureC != 80.5 {
		t.Errorf("MaxTemperatureC = %v, want 80.5", cfg.MaxTemperatureC)
	}
	if cfg.Hostname != "gpu-node-07" {
		t.Errorf("Hostname = %q, want gpu-node-07", cfg.Hostname)
	}
	if cfg.OutputPath != "/var/lib/gpudiag/report.json.zst" {
		t.Errorf("OutputPath = %q", cfg.OutputPath)
	}
	if cfg.OutputFormat != "json" || !cfg.Compress || cfg.CompressionLevel != 3 {
		t.Errorf("output = %q compress=%v level=%d", cfg.OutputFormat, cfg.Compress, cfg.CompressionLevel)
	}
	if cfg.TextfilePath != "/var/lib/node_exporter/gpudiag.prom" {
		t.Errorf("TextfilePath = %q", cfg.TextfilePath)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q, want debug/json", cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	clearEnv(t)

	t.Setenv("GPUDIAG_SOURCE_TIMEOUT", "60s")
	cfg, _ := Load(nil)
	if cfg.SourceTimeout != 60*time.Second {
		t.Errorf("SourceTimeout with '60s' = %v, want 60s", cfg.SourceTimeout)
	}

	// Plain integers are seconds.
	t.Setenv("GPUDIAG_SOURCE_TIMEOUT", "60")
	cfg, _ = Load(nil)
	if cfg.SourceTimeout != 60*time.Second {
		t.Errorf("SourceTimeout with '60' = %v, want 60s", cfg.SourceTimeout)
	}

	t.Setenv("GPUDIAG_KERNEL_WINDOW", "garbage")
	cfg, _ = Load(nil)
	if cfg.KernelWindow != 24*time.Hour {
		t.Errorf("KernelWindow with garbage = %v, want default 24h", cfg.KernelWindow)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gpudiag.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
source_timeout: 10s
kernel_window: 2h
max_temperature_c: 90
fabric_manager_unit: nv-fabricmanager
command_paths:
  nvidia-smi: /usr/bin/nvidia-smi
disabled_sources: [rdma]
format: json
`)
	t.Setenv("GPUDIAG_CONFIG", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.SourceTimeout != 10*time.Second {
		t.Errorf("SourceTimeout = %v, want 10s", cfg.SourceTimeout)
	}
	if cfg.KernelWindow != 2*time.Hour {
		t.Errorf("KernelWindow = %v, want 2h", cfg.KernelWindow)
	}
	if cfg.MaxTemperatureC != 90 {
		t.Errorf("MaxTemperatureC = %v, want 90", cfg.MaxTemperatureC)
	}
	if cfg.FabricManagerUnit != "nv-fabricmanager" {
		t.Errorf("FabricManagerUnit = %q", cfg.FabricManagerUnit)
	}
	if cfg.CommandPaths["nvidia-smi"] != "/usr/bin/nvidia-smi" {
		t.Errorf("CommandPaths = %v", cfg.CommandPaths)
	}
	if cfg.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json", cfg.OutputFormat)
	}
	// Fields absent from the file keep their defaults.
	if cfg.MaxKernelEvents != 20 {
		t.Errorf("MaxKernelEvents = %d, want default 20", cfg.MaxKernelEvents)
	}
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "max_temperature_c: 90\nkernel_window: 2h\nformat: json\n")
	t.Setenv("GPUDIAG_MAX_TEMPERATURE_C", "88")
	t.Setenv("GPUDIAG_KERNEL_WINDOW", "3h")

	fs := newFlags(t, "--config", path, "--kernel-window", "30m")
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// file < env
	if cfg.MaxTemperatureC != 88 {
		t.Errorf("MaxTemperatureC = %v, want 88 from env", cfg.MaxTemperatureC)
	}
	// env < flag
	if cfg.KernelWindow != 30*time.Minute {
		t.Errorf("KernelWindow = %v, want 30m from flag", cfg.KernelWindow)
	}
	// file value survives when nothing overrides it
	if cfg.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json from file", cfg.OutputFormat)
	}
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("GPUDIAG_FORMAT", "json")

	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json; default flag value must not win", cfg.OutputFormat)
	}
}

func TestLoad_Flags(t *testing.T) {
	clearEnv(t)
	fs := newFlags(t,
		"-f", "json",
		"--compress",
		"--rdma=false",
		"--disable-source", "versions",
		"--command-path", "dmesg=/bin/dmesg",
		"--max-kernel-events", "0",
		"-o", "/tmp/report.json",
	)
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutputFormat != "json" || !cfg.Compress {
		t.Errorf("format = %q compress=%v", cfg.OutputFormat, cfg.Compress)
	}
	if cfg.RDMAEnabled {
		t.Error("RDMAEnabled = true, want false")
	}
	if cfg.CommandPaths["dmesg"] != "/bin/dmesg" {
		t.Errorf("CommandPaths = %v", cfg.CommandPaths)
	}
	if cfg.MaxKernelEvents != 0 {
		t.Errorf("MaxKernelEvents = %d, want 0", cfg.MaxKernelEvents)
	}
	if cfg.OutputPath != "/tmp/report.json" {
		t.Errorf("OutputPath = %q", cfg.OutputPath)
	}

	disabled := cfg.Disabled()
	if len(disabled) != 2 || disabled[0] != inventory.SourceVersions || disabled[1] != inventory.SourceRDMA {
		t.Errorf("Disabled() = %v, want [versions rdma]", disabled)
	}
}

func TestLoad_BadFile(t *testing.T) {
	clearEnv(t)

	t.Setenv("GPUDIAG_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(nil); err == nil {
		t.Error("expected error for missing config file, got nil")
	}

	t.Setenv("GPUDIAG_CONFIG", writeFile(t, "source_timeout: [not a duration"))
	_, err := Load(nil)
	if err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
	if !strings.HasPrefix(err.Error(), "config: ") {
		t.Errorf("error %q should carry the config: prefix", err)
	}
}

func validConfig() Config {
	return Config{
		SourceTimeout:     30 * time.Second,
		KernelWindow:      24 * time.Hour,
		MaxKernelEvents:   20,
		MaxTemperatureC:   85,
		FabricManagerUnit: "nvidia-fabricmanager",
		OutputFormat:      "text",
		CompressionLevel:  2,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"timeout too low", func(c *Config) { c.SourceTimeout = 500 * time.Millisecond }},
		{"zero kernel window", func(c *Config) { c.KernelWindow = 0 }},
		{"negative max events", func(c *Config) { c.MaxKernelEvents = -1 }},
		{"zero temperature", func(c *Config) { c.MaxTemperatureC = 0 }},
		{"absurd temperature", func(c *Config) { c.MaxTemperatureC = 400 }},
		{"empty fabric manager unit", func(c *Config) { c.FabricManagerUnit = "" }},
		{"unknown disabled source", func(c *Config) { c.DisabledSources = []string{"gpu"} }},
		{"empty command path", func(c *Config) { c.CommandPaths = map[string]string{"nvcc": ""} }},
		{"bad format", func(c *Config) { c.OutputFormat = "yaml" }},
		{"compress with text", func(c *Config) { c.Compress = true }},
		{"compression level 0", func(c *Config) { c.CompressionLevel = 0 }},
		{"compression level 5", func(c *Config) { c.CompressionLevel = 5 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "logfmt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("error %q should carry the config: prefix", err)
			}
		})
	}
}

func TestValidate_CompressWithJSON(t *testing.T) {
	cfg := validConfig()
	cfg.OutputFormat = "json"
	cfg.Compress = true
	for level := 1; level <= 4; level++ {
		cfg.CompressionLevel = level
		if err := cfg.Validate(); err != nil {
			t.Errorf("level %d: unexpected error: %v", level, err)
		}
	}
}
