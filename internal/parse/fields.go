// Package parse converts raw collaborator output (nvidia-smi, lspci, dmesg,
// ibv_devinfo, ...) into inventory records.
//
// Parsers are pure and tolerant: a field that cannot be extracted is left
// nil and logged, a line that cannot be used is skipped, and a source with
// no matching lines yields an empty (non-nil) slice. Numbers are parsed as
// base-10 without locale handling.
package parse

import (
	"log/slog"
	"strconv"
	"strings"

	"k8s.io/utils/ptr"
)

// mibToBytes converts mebibytes to bytes.
const mibToBytes = 1048576

// notAvailable reports whether an nvidia-smi style cell carries no value,
// e.g. "[N/A]", "[Not Supported]" or an empty string.
func notAvailable(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return true
	}
	return strings.EqualFold(s, "n/a")
}

func optInt(source, field, s string) *int {
	s = strings.TrimSpace(s)
	if notAvailable(s) {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("unparsable integer field", "source", source, "field", field, "value", s)
		return nil
	}
	return ptr.To(n)
}

func optInt64(source, field, s string) *int64 {
	s = strings.TrimSpace(s)
	if notAvailable(s) {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		slog.Warn("unparsable integer field", "source", source, "field", field, "value", s)
		return nil
	}
	return ptr.To(n)
}

func optFloat(source, field, s string) *float64 {
	s = strings.TrimSpace(s)
	if notAvailable(s) {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		slog.Warn("unparsable numeric field", "source", source, "field", field, "value", s)
		return nil
	}
	return ptr.To(f)
}

// optMiB parses a MiB quantity and returns it in bytes.
func optMiB(source, field, s string) *int64 {
	v := optFloat(source, field, s)
	if v == nil {
		return nil
	}
	return ptr.To(int64(*v * mibToBytes))
}

// splitCSV splits one noheader/nounits CSV row and trims every cell.
func splitCSV(line string) []string {
	cells := strings.Split(line, ",")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// cell returns cells[i] or "" when the row is short.
func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// lines splits raw output into trimmed, non-empty lines.
func lines(raw string) []string {
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
