package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lspciH100Pair = `0000:17:00.0 3D controller: NVIDIA Corporation GH100 [H100 SXM5 80GB] (rev a1)
	Subsystem: NVIDIA Corporation Device 16c1
	Control: I/O- Mem+ BusMaster+ SpecCycle- MemWINV- VGASnoop- ParErr+ Stepping- SERR+ FastB2B- DisINTx+
	Capabilities: [60] Express (v2) Endpoint, MSI 00
		LnkCap:	Port #0, Speed 32GT/s, Width x16, ASPM not supported
			ClockPM+ Surprise- LLActRep- BwNot- ASPMOptComp+
		LnkCtl:	ASPM Disabled; RCB 64 bytes, Disabled- CommClk+
		LnkSta:	Speed 32GT/s, Width x16
			TrErr- Train- SlotClk+ DLActive- BWMgmt- ABWMgmt-
		LnkCap2: Supported Link Speeds: 2.5-32GT/s, Crosslink- Retimer+ 2Retimers+ DRS-
		LnkSta2: Current De-emphasis Level: -3.5dB, EqualizationComplete+
	Kernel driver in use: nvidia

0000:17:00.1 Audio device: NVIDIA Corporation Device 22ba (rev a1)
	Subsystem: NVIDIA Corporation Device 16c1

0000:2a:00.0 3D controller: NVIDIA Corporation GH100 [H100 SXM5 80GB] (rev a1)
	Capabilities: [60] Express (v2) Endpoint, MSI 00
		LnkCap:	Port #0, Speed 32GT/s, Width x16, ASPM not supported
		LnkSta:	Speed 16GT/s (downgraded), Width x8 (downgraded)
	Kernel driver in use: nvidia
`

func TestNormalizeBusAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"00000000:17:00.0", "0000:17:00.0"},
		{"0000:17:00.0", "0000:17:00.0"},
		{"17:00.0", "0000:17:00.0"},
		{"00000000:2A:00.0", "0000:2a:00.0"},
		{"1:3b:00.0", "0001:3b:00.0"},
		{"  0000:C5:00.0 ", "0000:c5:00.0"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBusAddress(tt.in))
		})
	}
}

func TestParseLspci_H100Pair(t *testing.T) {
	records := ParseLspci(lspciH100Pair)
	require.Len(t, records, 2, "audio function must be excluded")

	first := records[0]
	assert.Equal(t, "0000:17:00.0", first.BusAddress)
	assert.Contains(t, first.Description, "H100 SXM5 80GB")
	require.NotNil(t, first.LinkWidthMax)
	require.NotNil(t, first.LinkWidthCurrent)
	assert.Equal(t, 16, *first.LinkWidthMax)
	assert.Equal(t, 16, *first.LinkWidthCurrent)

	second := records[1]
	assert.Equal(t, "0000:2a:00.0", second.BusAddress)
	require.NotNil(t, second.LinkWidthCurrent)
	assert.Equal(t, 8, *second.LinkWidthCurrent)
	assert.Equal(t, 16, *second.LinkWidthMax)
}

func TestParseLspci_UnprivilegedHidesWidths(t *testing.T) {
	raw := `17:00.0 3D controller: NVIDIA Corporation GA100 [A100 SXM4 80GB] (rev a1)
	Subsystem: NVIDIA Corporation Device 1463
	Capabilities: <access denied>
`
	records := ParseLspci(raw)
	require.Len(t, records, 1)
	assert.Equal(t, "0000:17:00.0", records[0].BusAddress)
	assert.Nil(t, records[0].LinkWidthCurrent)
	assert.Nil(t, records[0].LinkWidthMax)
}

func TestParseLspci_IgnoresOtherVendors(t *testing.T) {
	raw := `0000:03:00.0 VGA compatible controller: ASPEED Technology, Inc. ASPEED Graphics Family (rev 52)
0000:c1:00.0 Ethernet controller: Mellanox Technologies MT2910 Family [ConnectX-7]
`
	records := ParseLspci(raw)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestParseLspci_Empty(t *testing.T) {
	records := ParseLspci("")
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
