package parse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

var (
	// NVRM: Xid (PCI:0000:b3:00): 79, pid=1234, name=process, Ch 00000001
	xidPattern = regexp.MustCompile(`NVRM: Xid \(PCI:([0-9a-fA-F:.]+)\): (\d+)`)
	// nvidia-nvswitch3: SXid (PCI:0000:c5:00.0): 12028, Non-fatal, Link 32 egress non-posted PRIV error
	sxidPattern = regexp.MustCompile(`SXid \(PCI:([0-9a-fA-F:.]+)\): (\d+)`)
	// NVRM: GPU 0000:17:00.0: GPU has fallen off the bus.
	fallenOffBusPattern = regexp.MustCompile(`(?i)(?:GPU ([0-9a-fA-F]{4,8}:[0-9a-fA-F:.]+):\s*)?GPU has fallen off the bus`)
	// [Mon Dec 25 10:11:12 2025] message
	ctimePrefixPattern = regexp.MustCompile(`^\[([A-Z][a-z]{2} [A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2} \d{4})\]\s*(.*)$`)
)

// isoLayouts covers `dmesg --time-format iso` variants across util-linux
// releases.
var isoLayouts = []string{
	"2006-01-02T15:04:05,999999-07:00",
	"2006-01-02T15:04:05,999999-0700",
	time.RFC3339Nano,
}

// KernelLogOptions bounds which matching lines ParseKernelLog keeps.
type KernelLogOptions struct {
	Now       time.Time
	Window    time.Duration
	MaxEvents int
}

// ParseKernelLog scans kernel ring buffer output (`dmesg --time-format iso`
// or `dmesg -T`) for critical GPU signatures: NVRM Xid, NVSwitch SXid and
// "GPU has fallen off the bus". Events older than Window are dropped; lines
// without a parsable timestamp are kept since their age cannot be proven.
// The result is most-recent-first and capped at MaxEvents (0 = no cap).
func ParseKernelLog(raw string, opts KernelLogOptions) []inventory.LogEvent {
	type seqEvent struct {
		seq int
		ev  inventory.LogEvent
	}
	var matched []seqEvent

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ts, msg := splitTimestamp(line)
		ev, ok := matchSignature(msg)
		if !ok {
			continue
		}
		if !ts.IsZero() && opts.Window > 0 && opts.Now.Sub(ts) > opts.Window {
			continue
		}
		ev.Timestamp = ts
		ev.Text = line
		matched = append(matched, seqEvent{seq: i, ev: ev})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		aTimed, bTimed := !a.ev.Timestamp.IsZero(), !b.ev.Timestamp.IsZero()
		if aTimed != bTimed {
			return aTimed
		}
		if aTimed && !a.ev.Timestamp.Equal(b.ev.Timestamp) {
			return a.ev.Timestamp.After(b.ev.Timestamp)
		}
		return a.seq > b.seq
	})

	if opts.MaxEvents > 0 && len(matched) > opts.MaxEvents {
		matched = matched[:opts.MaxEvents]
	}

	events := make([]inventory.LogEvent, 0, len(matched))
	for _, m := range matched {
		events = append(events, m.ev)
	}
	return events
}

func splitTimestamp(line string) (time.Time, string) {
	if m := ctimePrefixPattern.FindStringSubmatch(line); m != nil {
		ts, err := time.ParseInLocation("Mon Jan _2 15:04:05 2006", m[1], time.Local)
		if err == nil {
			return ts, m[2]
		}
		return time.Time{}, m[2]
	}

	first, rest, found := strings.Cut(line, " ")
	if !found {
		return time.Time{}, line
	}
	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, first); err == nil {
			return ts, rest
		}
	}
	return time.Time{}, line
}

func matchSignature(msg string) (inventory.LogEvent, bool) {
	if m := xidPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[2])
		return inventory.LogEvent{
			Signature:  inventory.SignatureXid,
			Code:       code,
			BusAddress: NormalizeBusAddress(m[1]),
		}, true
	}
	if m := sxidPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[2])
		return inventory.LogEvent{
			Signature:  inventory.SignatureSXid,
			Code:       code,
			BusAddress: NormalizeBusAddress(m[1]),
		}, true
	}
	if m := fallenOffBusPattern.FindStringSubmatch(msg); m != nil {
		ev := inventory.LogEvent{Signature: inventory.SignatureFallenOffBus}
		if m[1] != "" {
			ev.BusAddress = NormalizeBusAddress(m[1])
		}
		return ev, true
	}
	return inventory.LogEvent{}, false
}
