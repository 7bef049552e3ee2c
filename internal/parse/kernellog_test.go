package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeadapt/gpudiag/internal/inventory"
)

const dmesgISOOutput = `2026-10-16T08:00:00,000000+00:00 NVRM: Xid (PCI:0000:17:00): 79, pid=1234, name=python, Ch 00000001
2026-10-18T09:12:33,123456+00:00 NVRM: Xid (PCI:0000:17:00): 48, pid=4821, name=python, An uncorrectable double bit error
2026-10-18T10:00:00,000000+00:00 nvidia-nvswitch3: SXid (PCI:0000:c5:00.0): 12028, Non-fatal, Link 32 egress non-posted PRIV error
2026-10-18T10:30:00,000000+00:00 mlx5_core 0000:c1:00.0: Port module event: module 0, Cable plugged
2026-10-18T11:00:00,000000+00:00 NVRM: GPU 0000:2a:00.0: GPU has fallen off the bus.
`

func kernelNow() time.Time {
	return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
}

func TestParseKernelLog_WindowAndOrder(t *testing.T) {
	events := ParseKernelLog(dmesgISOOutput, KernelLogOptions{
		Now:    kernelNow(),
		Window: 24 * time.Hour,
	})
	require.Len(t, events, 3, "event older than the window and unrelated lines are dropped")

	assert.Equal(t, inventory.SignatureFallenOffBus, events[0].Signature)
	assert.Equal(t, "0000:2a:00.0", events[0].BusAddress)

	assert.Equal(t, inventory.SignatureSXid, events[1].Signature)
	assert.Equal(t, 12028, events[1].Code)
	assert.Equal(t, "0000:c5:00.0", events[1].BusAddress)

	assert.Equal(t, inventory.SignatureXid, events[2].Signature)
	assert.Equal(t, 48, events[2].Code)
	assert.Equal(t, "0000:17:00", events[2].BusAddress)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 12, 33, 123456000, time.UTC), events[2].Timestamp.UTC())
	assert.Contains(t, events[2].Text, "uncorrectable double bit error")
}

func TestParseKernelLog_MaxEvents(t *testing.T) {
	events := ParseKernelLog(dmesgISOOutput, KernelLogOptions{
		Now:       kernelNow(),
		Window:    24 * time.Hour,
		MaxEvents: 2,
	})
	require.Len(t, events, 2)
	assert.Equal(t, inventory.SignatureFallenOffBus, events[0].Signature)
	assert.Equal(t, inventory.SignatureSXid, events[1].Signature)
}

func TestParseKernelLog_NoWindowKeepsAll(t *testing.T) {
	events := ParseKernelLog(dmesgISOOutput, KernelLogOptions{Now: kernelNow()})
	assert.Len(t, events, 4)
}

func TestParseKernelLog_UntimedLinesKeptAfterTimed(t *testing.T) {
	raw := `[ 1234.567890] NVRM: Xid (PCI:0000:17:00): 31, pid=99, Ch 00000008
2026-10-18T11:59:00,000000+00:00 NVRM: Xid (PCI:0000:2a:00): 13, pid=100
[ 1300.000000] NVRM: Xid (PCI:0000:3b:00): 43, pid=101
`
	events := ParseKernelLog(raw, KernelLogOptions{Now: kernelNow(), Window: time.Hour})
	require.Len(t, events, 3)

	assert.Equal(t, 13, events[0].Code)
	assert.False(t, events[0].Timestamp.IsZero())

	// Untimed events follow, later lines first.
	assert.Equal(t, 43, events[1].Code)
	assert.True(t, events[1].Timestamp.IsZero())
	assert.Equal(t, 31, events[2].Code)
}

func TestParseKernelLog_CtimeFormat(t *testing.T) {
	raw := "[Sun Oct 18 11:30:00 2026] NVRM: Xid (PCI:0000:17:00): 94, pid=1, Contained ECC error\n"
	events := ParseKernelLog(raw, KernelLogOptions{})
	require.Len(t, events, 1)
	assert.Equal(t, 94, events[0].Code)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, 11, events[0].Timestamp.Hour())
}

func TestParseKernelLog_Clean(t *testing.T) {
	raw := `2026-10-18T10:30:00,000000+00:00 mlx5_core 0000:c1:00.0: Link up
2026-10-18T10:31:00,000000+00:00 nvidia-modeset: Loading NVIDIA Kernel Mode Setting Driver
`
	events := ParseKernelLog(raw, KernelLogOptions{Now: kernelNow(), Window: 24 * time.Hour})
	assert.NotNil(t, events)
	assert.Empty(t, events)
}
