package parse

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

var (
	// 0000:17:00.0 3D controller: NVIDIA Corporation GH100 [H100 SXM5 80GB] (rev a1)
	lspciHeaderPattern = regexp.MustCompile(
		`^((?:[0-9a-fA-F]{4,8}:)?[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7])\s+([^:]+):\s*(.*)$`,
	)
	lnkCapPattern = regexp.MustCompile(`^LnkCap:.*\bWidth x(\d+)`)
	lnkStaPattern = regexp.MustCompile(`^LnkSta:.*\bWidth x(\d+)`)
)

// NormalizeBusAddress canonicalizes a PCI address to the lowercase
// "dddd:bb:dd.f" form. nvidia-smi reports an 8-digit domain
// ("00000000:17:00.0"), lspci without -D omits it ("17:00.0"); both map to
// "0000:17:00.0". Unrecognized input is returned lowercased.
func NormalizeBusAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 2:
		return "0000:" + addr
	case 3:
		domain := parts[0]
		if len(domain) > 4 {
			domain = domain[len(domain)-4:]
		}
		if len(domain) < 4 {
			domain = strings.Repeat("0", 4-len(domain)) + domain
		}
		return fmt.Sprintf("%s:%s:%s", domain, parts[1], parts[2])
	default:
		return addr
	}
}

// isGPUClass reports whether an lspci class string denotes a display or 3D
// controller, excluding the audio and USB functions NVIDIA boards expose.
func isGPUClass(class string) bool {
	c := strings.ToLower(class)
	return strings.Contains(c, "vga") || strings.Contains(c, "3d controller")
}

// ParseLspci parses `lspci -D -vvv -d 10de:` output and returns one record
// per NVIDIA display/3D function. Link widths come from the LnkCap (max) and
// LnkSta (current) capability lines; when lspci runs unprivileged those
// lines are hidden and the widths stay nil.
func ParseLspci(raw string) []inventory.PCIeRecord {
	records := make([]inventory.PCIeRecord, 0)
	var cur *inventory.PCIeRecord

	flush := func() {
		if cur != nil {
			records = append(records, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			flush()
			m := lspciHeaderPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if !isGPUClass(m[2]) || !strings.Contains(strings.ToLower(m[3]), "nvidia") {
				continue
			}
			cur = &inventory.PCIeRecord{
				BusAddress:  NormalizeBusAddress(m[1]),
				Description: strings.TrimSpace(m[3]),
			}
			continue
		}
		if cur == nil {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if m := lnkCapPattern.FindStringSubmatch(trimmed); m != nil {
			cur.LinkWidthMax = optInt("pcie", "LnkCap.Width", m[1])
		} else if m := lnkStaPattern.FindStringSubmatch(trimmed); m != nil {
			cur.LinkWidthCurrent = optInt("pcie", "LnkSta.Width", m[1])
		}
	}
	flush()

	for _, r := range records {
		if r.LinkWidthCurrent == nil || r.LinkWidthMax == nil {
			slog.Debug("lspci record without link widths", "bus", r.BusAddress)
		}
	}
	return records
}
