package config

import (
	"fmt"
	"time"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.SourceTimeout < time.Second {
		return fmt.Errorf("config: SourceTimeout must be >= 1s, got %v", c.SourceTimeout)
	}

	if c.KernelWindow <= 0 {
		return fmt.Errorf("config: KernelWindow must be positive, got %v", c.KernelWindow)
	}

	if c.MaxKernelEvents < 0 {
		return fmt.Errorf("config: MaxKernelEvents must be >= 0, got %d", c.MaxKernelEvents)
	}

	if c.MaxTemperatureC <= 0 || c.MaxTemperatureC > 150 {
		return fmt.Errorf("config: MaxTemperatureC must be in (0, 150], got %v", c.MaxTemperatureC)
	}

	if c.FabricManagerUnit == "" {
		return fmt.Errorf("config: GPUDIAG_FABRIC_MANAGER_UNIT must not be empty")
	}

	known := make(map[string]bool, len(inventory.AllSources))
	for _, s := range inventory.AllSources {
		known[string(s)] = true
	}
	for _, s := range c.DisabledSources {
		if !known[s] {
			return fmt.Errorf("config: unknown source %q in DisabledSources", s)
		}
	}

	for name, path := range c.CommandPaths {
		if name == "" || path == "" {
			return fmt.Errorf("config: CommandPaths entries need a name and a path, got %q=%q", name, path)
		}
	}

	switch c.OutputFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: OutputFormat must be json or text, got %q", c.OutputFormat)
	}

	if c.Compress && c.OutputFormat != "json" {
		return fmt.Errorf("config: Compress requires OutputFormat json, got %q", c.OutputFormat)
	}

	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("config: CompressionLevel must be 1-4, got %d", c.CompressionLevel)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LogLevel must be debug, info, warn or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: LogFormat must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// Disabled returns the sources that must not be queried: the explicit list
// plus rdma when RDMA checks are turned off.
func (c Config) Disabled() []inventory.Source {
	out := make([]inventory.Source, 0, len(c.DisabledSources)+1)
	for _, s := range c.DisabledSources {
		out = append(out, inventory.Source(s))
	}
	if !c.RDMAEnabled {
		out = append(out, inventory.SourceRDMA)
	}
	return out
}
