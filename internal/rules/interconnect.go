package rules

import (
	"fmt"

	"github.com/kubeadapt/gpudiag/internal/inventory"
	"github.com/kubeadapt/gpudiag/pkg/model"
)

type deviceLink struct {
	dev  inventory.Device
	link inventory.InterconnectLink
}

func (dl deviceLink) subject() string {
	return fmt.Sprintf("%s link %d", dl.dev.Label(), dl.link.ID)
}

// linksOrSkip returns every link in device then link order, or a single
// Skipped result when nothing can be checked.
func linksOrSkip(h *inventory.Host) ([]deviceLink, []model.CheckResult) {
	if !h.Known(inventory.SourceInterconnect) {
		return nil, sourceUnavailable(inventory.SourceInterconnect)
	}
	var out []deviceLink
	for _, d := range h.Recognized() {
		for _, l := range d.Links {
			out = append(out, deviceLink{dev: d, link: l})
		}
	}
	if len(out) == 0 {
		return nil, []model.CheckResult{skipped("", "no interconnect links reported")}
	}
	return out, nil
}

func checkLinkStatus(h *inventory.Host, _ Thresholds) []model.CheckResult {
	links, skip := linksOrSkip(h)
	if skip != nil {
		return skip
	}

	out := make([]model.CheckResult, 0, len(links))
	for _, dl := range links {
		subject := dl.subject()
		switch dl.link.Status {
		case inventory.LinkActive:
			out = append(out, result(model.StatusPass, subject, "link active"))
		case inventory.LinkInactive:
			out = append(out, result(model.StatusWarn, subject, "link inactive"))
		default:
			out = append(out, skipped(subject, "link status unknown"))
		}
	}
	return out
}

func checkLinkErrors(h *inventory.Host, _ Thresholds) []model.CheckResult {
	links, skip := linksOrSkip(h)
	if skip != nil {
		return skip
	}

	out := make([]model.CheckResult, 0, len(links))
	for _, dl := range links {
		subject := dl.subject()
		counters := map[string]*int64{
			"crc":      dl.link.Counters.CRC,
			"recovery": dl.link.Counters.Recovery,
			"fatal":    dl.link.Counters.Fatal,
			"replay":   dl.link.Counters.Replay,
		}

		detail := make(map[string]any, len(counters))
		var total int64
		for name, c := range counters {
			if c == nil {
				continue
			}
			detail[name] = *c
			total += *c
		}

		var r model.CheckResult
		switch {
		case len(detail) == 0:
			r = skipped(subject, "error counters not reported")
		case total > 0:
			r = result(model.StatusFail, subject, "%d link error(s) recorded", total)
		default:
			r = result(model.StatusPass, subject, "no link errors")
		}
		if len(detail) > 0 {
			r.Detail = detail
		}
		out = append(out, r)
	}
	return out
}
