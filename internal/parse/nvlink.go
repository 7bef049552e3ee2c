package parse

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"k8s.io/utils/ptr"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

var (
	// GPU 3: NVIDIA A100-SXM4-80GB (UUID: GPU-0df17138-4661-76d1-a4ef-9aa0857f7941)
	nvlinkGPUHeaderPattern = regexp.MustCompile(`^GPU (\d+):`)
	// Link 0: 26.562 GB/s | Link 1: <inactive>
	nvlinkStatusPattern = regexp.MustCompile(`^Link (\d+):\s*(.*)$`)
	// Link 0: Replay Errors: 0 | Link 0: Data CRC Errors: 3
	nvlinkCounterPattern = regexp.MustCompile(`^Link (\d+):\s*([A-Za-z][A-Za-z ]*?)\s*:\s*(-?\d+)\s*$`)
	linkBandwidthPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s*[GM]B/s`)
)

type linkKey struct {
	gpu  int
	link int
}

// ParseNVLinkStatus parses `nvidia-smi nvlink -s`. A link reporting a
// bandwidth is Active, one printing "<inactive>" is Inactive, anything else
// is Unknown.
func ParseNVLinkStatus(raw string) []inventory.LinkRecord {
	records := make([]inventory.LinkRecord, 0)
	gpu := -1

	for _, line := range lines(raw) {
		if id, ok := parseGPUHeader(line); ok {
			gpu = id
			continue
		}
		m := nvlinkStatusPattern.FindStringSubmatch(line)
		if m == nil || gpu < 0 {
			continue
		}
		link, err := strconv.Atoi(m[1])
		if err != nil {
			slog.Warn("invalid NVLink id", "link_id_str", m[1])
			continue
		}
		records = append(records, inventory.LinkRecord{
			DriverIndex: gpu,
			LinkIndex:   link,
			Status:      linkStatus(m[2]),
		})
	}
	return records
}

func linkStatus(s string) inventory.LinkStatus {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(lower, "inactive"), strings.Contains(lower, "disabled"):
		return inventory.LinkInactive
	case linkBandwidthPattern.MatchString(s), lower == "active":
		return inventory.LinkActive
	default:
		return inventory.LinkUnknown
	}
}

// ParseNVLinkErrors parses `nvidia-smi nvlink -e`. Counter names are matched
// loosely so that "CRC Errors", "Data CRC Errors" and "Flit CRC Errors" all
// add to the CRC counter. Status is left Unknown; MergeLinks combines the
// result with ParseNVLinkStatus.
func ParseNVLinkErrors(raw string) []inventory.LinkRecord {
	byKey := make(map[linkKey]*inventory.LinkRecord)
	gpu := -1

	for _, line := range lines(raw) {
		if id, ok := parseGPUHeader(line); ok {
			gpu = id
			continue
		}
		m := nvlinkCounterPattern.FindStringSubmatch(line)
		if m == nil || gpu < 0 {
			continue
		}
		link, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		value, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || value < 0 {
			slog.Warn("invalid NVLink counter", "gpu", gpu, "link", link, "counter", m[2], "value", m[3])
			continue
		}

		k := linkKey{gpu: gpu, link: link}
		rec, ok := byKey[k]
		if !ok {
			rec = &inventory.LinkRecord{DriverIndex: gpu, LinkIndex: link, Status: inventory.LinkUnknown}
			byKey[k] = rec
		}

		name := strings.ToLower(m[2])
		switch {
		case strings.Contains(name, "crc"):
			rec.Counters.CRC = addCounter(rec.Counters.CRC, value)
		case strings.Contains(name, "recovery"):
			rec.Counters.Recovery = addCounter(rec.Counters.Recovery, value)
		case strings.Contains(name, "replay"):
			rec.Counters.Replay = addCounter(rec.Counters.Replay, value)
		case strings.Contains(name, "fatal"):
			rec.Counters.Fatal = addCounter(rec.Counters.Fatal, value)
		}
	}

	return sortedLinks(byKey)
}

// MergeLinks joins status and error records on (GPU index, link index).
// Status comes from the status records; counters from the error records.
func MergeLinks(status, errs []inventory.LinkRecord) []inventory.LinkRecord {
	byKey := make(map[linkKey]*inventory.LinkRecord, len(status))
	for _, s := range status {
		rec := s
		byKey[linkKey{gpu: s.DriverIndex, link: s.LinkIndex}] = &rec
	}
	for _, e := range errs {
		k := linkKey{gpu: e.DriverIndex, link: e.LinkIndex}
		rec, ok := byKey[k]
		if !ok {
			rec = &inventory.LinkRecord{DriverIndex: e.DriverIndex, LinkIndex: e.LinkIndex, Status: inventory.LinkUnknown}
			byKey[k] = rec
		}
		rec.Counters = e.Counters
	}
	return sortedLinks(byKey)
}

func sortedLinks(byKey map[linkKey]*inventory.LinkRecord) []inventory.LinkRecord {
	out := make([]inventory.LinkRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DriverIndex != out[j].DriverIndex {
			return out[i].DriverIndex < out[j].DriverIndex
		}
		return out[i].LinkIndex < out[j].LinkIndex
	})
	return out
}

func addCounter(cur *int64, v int64) *int64 {
	if cur == nil {
		return ptr.To(v)
	}
	return ptr.To(*cur + v)
}

func parseGPUHeader(line string) (int, bool) {
	m := nvlinkGPUHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		slog.Warn("invalid GPU id in nvidia-smi output", "gpu_id_str", m[1])
		return 0, false
	}
	return id, true
}
