// Package output renders a diagnostic report for people and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kubeadapt/gpudiag/pkg/model"
)

// JSONOptions controls WriteJSON.
type JSONOptions struct {
	// Compress wraps the stream in zstd.
	Compress bool
	// Level is the zstd encoder level, 1 (fastest) to 4 (best). Zero uses
	// the encoder default.
	Level int
}

// WriteJSON streams r to w as indented JSON, optionally zstd-compressed,
// without buffering the whole document. It returns the number of bytes
// written to w.
func WriteJSON(w io.Writer, r *model.Report, opts JSONOptions) (int64, error) {
	cw := NewCountingWriter(w)

	if !opts.Compress {
		if err := encode(cw, r); err != nil {
			return cw.Count(), err
		}
		return cw.Count(), nil
	}

	level := zstd.SpeedDefault
	if opts.Level > 0 {
		level = zstd.EncoderLevel(opts.Level)
	}
	zw, err := zstd.NewWriter(cw, zstd.WithEncoderLevel(level))
	if err != nil {
		return 0, fmt.Errorf("output: failed to create zstd encoder: %w", err)
	}

	encodeErr := encode(zw, r)
	// Close zstd to flush the final frame even when encoding failed.
	closeErr := zw.Close()
	if encodeErr != nil {
		return cw.Count(), encodeErr
	}
	if closeErr != nil {
		return cw.Count(), fmt.Errorf("output: zstd close failed: %w", closeErr)
	}
	return cw.Count(), nil
}

func encode(w io.Writer, r *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("output: JSON encode failed: %w", err)
	}
	return nil
}
