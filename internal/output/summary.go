package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/kubeadapt/gpudiag/pkg/model"
)

// SummaryOptions controls WriteSummary.
type SummaryOptions struct {
	// Color enables ANSI styling when w is a terminal. Without it the output
	// is plain text regardless of w.
	Color bool
}

type summaryStyles struct {
	status  map[model.Status]lipgloss.Style
	heading lipgloss.Style
	faint   lipgloss.Style
}

func newSummaryStyles(w io.Writer, opts SummaryOptions) summaryStyles {
	r := lipgloss.NewRenderer(w)
	if !opts.Color {
		r.SetColorProfile(termenv.Ascii)
	}
	return summaryStyles{
		status: map[model.Status]lipgloss.Style{
			model.StatusPass:    r.NewStyle().Foreground(lipgloss.Color("2")),
			model.StatusWarn:    r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			model.StatusFail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
			model.StatusSkipped: r.NewStyle().Faint(true),
		},
		heading: r.NewStyle().Bold(true),
		faint:   r.NewStyle().Faint(true),
	}
}

// statusLabel returns the fixed-width checklist marker for s.
func statusLabel(s model.Status) string {
	switch s {
	case model.StatusPass:
		return "[PASS]"
	case model.StatusWarn:
		return "[WARN]"
	case model.StatusFail:
		return "[FAIL]"
	default:
		return "[SKIP]"
	}
}

// WriteSummary writes a human-readable checklist of r: the overall verdict,
// every result grouped by category, then dropped devices, unavailable
// sources and data-quality issues.
func WriteSummary(w io.Writer, r *model.Report, opts SummaryOptions) error {
	st := newSummaryStyles(w, opts)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", st.heading.Render("GPU diagnostic report"))
	header := []string{}
	if r.Hostname != "" {
		header = append(header, "host "+r.Hostname)
	}
	if !r.GeneratedAt.IsZero() {
		header = append(header, r.GeneratedAt.UTC().Format(time.RFC3339))
	}
	if r.ID != "" {
		header = append(header, "id "+r.ID)
	}
	if len(header) > 0 {
		fmt.Fprintf(&b, "%s\n", st.faint.Render(strings.Join(header, "  ")))
	}

	overall := strings.ToUpper(string(r.OverallStatus))
	fmt.Fprintf(&b, "\nRESULT: %s  (%d checks: %d pass, %d warn, %d fail, %d skipped)\n",
		st.status[r.OverallStatus].Render(overall),
		r.Summary.Total, r.Summary.Pass, r.Summary.Warn, r.Summary.Fail, r.Summary.Skipped,
	)

	groups := r.ByCategory()
	for _, cat := range r.Categories() {
		fmt.Fprintf(&b, "\n%s\n", st.heading.Render(cat))
		for _, res := range groups[cat] {
			label := statusLabel(res.Status)
			if s, ok := st.status[res.Status]; ok {
				label = s.Render(label)
			}
			line := res.Name
			if res.Subject != "" {
				line += " " + res.Subject
			}
			fmt.Fprintf(&b, "  %s %s: %s\n", label, line, res.Message)
		}
	}

	if len(r.Devices) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.heading.Render("gpu inventory"))
		for _, d := range r.Devices {
			fmt.Fprintf(&b, "  %s\n", deviceLine(d))
		}
	}

	if len(r.DroppedDevices) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.heading.Render("dropped devices"))
		for _, bus := range r.DroppedDevices {
			fmt.Fprintf(&b, "  %s\n", bus)
		}
	}

	var down []model.SourceStatus
	for _, s := range r.Sources {
		if !s.Available {
			down = append(down, s)
		}
	}
	if len(down) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.heading.Render("unavailable sources"))
		for _, s := range down {
			if s.Error != "" {
				fmt.Fprintf(&b, "  %s: %s\n", s.Name, s.Error)
			} else {
				fmt.Fprintf(&b, "  %s\n", s.Name)
			}
		}
	}

	if len(r.Issues) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.heading.Render("issues"))
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "  %s %s: %s\n", st.faint.Render(is.Code), is.Component, is.Message)
		}
	}

	if r.OverallStatus == model.StatusPass {
		fmt.Fprintf(&b, "\n%s\n", st.status[model.StatusPass].Render("No failures or warnings."))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// deviceLine renders one inventory entry, leaving out what was not reported.
func deviceLine(d model.DeviceInfo) string {
	parts := []string{d.BusAddress}
	if d.Index != nil {
		parts[0] = fmt.Sprintf("GPU %d (%s)", *d.Index, d.BusAddress)
	}
	if d.Name != "" {
		parts = append(parts, d.Name)
	}
	if !d.Recognized {
		parts = append(parts, "not reported by the driver")
	}
	if d.TemperatureC != nil {
		parts = append(parts, fmt.Sprintf("%.0f°C", *d.TemperatureC))
	}
	if d.MemoryUsedBytes != nil {
		parts = append(parts, fmt.Sprintf("%d MiB used", *d.MemoryUsedBytes>>20))
	}
	if d.PowerDrawW != nil && d.PowerLimitW != nil {
		parts = append(parts, fmt.Sprintf("%.0f/%.0f W", *d.PowerDrawW, *d.PowerLimitW))
	}
	if d.UUID != "" {
		parts = append(parts, d.UUID)
	}
	return strings.Join(parts, "  ")
}
