package rules

import (
	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/internal/version"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

// checkFabricManager requires the fabric-manager service to be active and its
// major version to match the driver's. Minor and patch differences are
// tolerated.
func checkFabricManager(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourceVersions) {
		return sourceUnavailable(inventory.SourceVersions)
	}
	v := h.Versions
	detail := map[string]any{
		"driver_version":         v.DriverVersion,
		"fabric_manager_version": v.FabricManagerVersion,
		"service_state":          string(v.FabricManagerState),
	}

	var r model.CheckResult
	switch v.FabricManagerState {
	case inventory.ServiceInactive:
		r = result(model.StatusFail, "", "fabric manager service is not active")
	case inventory.ServiceActive:
		r = compareFabricManager(v.DriverVersion, v.FabricManagerVersion)
	default:
		r = skipped("", "fabric manager service state unknown")
	}
	r.Detail = detail
	return []model.CheckResult{r}
}

func compareFabricManager(driverRaw, fmRaw string) model.CheckResult {
	if driverRaw == "" {
		return skipped("", "driver version unknown")
	}
	if fmRaw == "" {
		return skipped("", "fabric manager version unknown")
	}
	driver, err := version.Parse(driverRaw)
	if err != nil {
		return skipped("", "unparsable driver version %q", driverRaw)
	}
	fm, err := version.Parse(fmRaw)
	if err != nil {
		return skipped("", "unparsable fabric manager version %q", fmRaw)
	}
	if !driver.SameMajor(fm) {
		return result(model.StatusFail, "", "fabric manager %s does not match driver %s", fmRaw, driverRaw)
	}
	return result(model.StatusPass, "", "fabric manager %s active, matches driver %s", fmRaw, driverRaw)
}

// checkCompiler compares the installed toolkit compiler against the newest
// toolkit the driver supports, by major then minor.
func checkCompiler(h *inventory.Host, _ Thresholds) []model.CheckResult {
	if !h.Known(inventory.SourceVersions) {
		return sourceUnavailable(inventory.SourceVersions)
	}
	v := h.Versions

	var r model.CheckResult
	switch {
	case v.CompilerVersion == "":
		r = skipped("", "compiler version unknown")
	case v.MaxSupportedToolkit == "":
		r = skipped("", "driver's supported toolkit version unknown")
	default:
		r = compareToolkit(v.CompilerVersion, v.MaxSupportedToolkit)
	}
	r.Detail = map[string]any{
		"compiler_version":      v.CompilerVersion,
		"max_supported_toolkit": v.MaxSupportedToolkit,
	}
	return []model.CheckResult{r}
}

func compareToolkit(compilerRaw, maxRaw string) model.CheckResult {
	compiler, err := version.Parse(compilerRaw)
	if err != nil {
		return skipped("", "unparsable compiler version %q", compilerRaw)
	}
	maxSupported, err := version.Parse(maxRaw)
	if err != nil {
		return skipped("", "unparsable supported toolkit version %q", maxRaw)
	}
	if compiler.CompareMinor(maxSupported) > 0 {
		return result(model.StatusFail, "", "compiler %s is newer than the driver supports (%s)", compilerRaw, maxRaw)
	}
	return result(model.StatusPass, "", "compiler %s supported by driver (up to %s)", compilerRaw, maxRaw)
}

// checkDriverUniformity fails when GPUs on the host run different driver
// versions.
func checkDriverUniformity(h *inventory.Host, _ Thresholds) []model.CheckResult {
	versions := h.Versions.DriverVersions
	if len(versions) == 0 {
		if !h.Known(inventory.SourceVersions) && !h.Known(inventory.SourceAccelerator) {
			return sourceUnavailable(inventory.SourceVersions)
		}
		return []model.CheckResult{skipped("", "no driver version reported")}
	}

	var r model.CheckResult
	if len(versions) > 1 {
		r = result(model.StatusFail, "", "%d different driver versions in use", len(versions))
	} else {
		r = result(model.StatusPass, "", "driver %s on all GPUs", versions[0])
	}
	r.Detail = map[string]any{"driver_versions": append([]string(nil), versions...)}
	return []model.CheckResult{r}
}
