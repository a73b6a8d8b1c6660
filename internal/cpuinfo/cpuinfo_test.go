package cpuinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withCPUInfo(t *testing.T, contents string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cpuinfo")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	previous := procCPUInfoPath
	procCPUInfoPath = path
	t.Cleanup(func() { procCPUInfoPath = previous })
}

func TestDetectAMD(t *testing.T) {
	withCPUInfo(t, `processor	: 0
vendor_id	: AuthenticAMD
cpu family	: 25
model		: 33
model name	: AMD Ryzen 9 5950X 16-Core Processor

processor	: 1
vendor_id	: AuthenticAMD
`)

	cpu := Detect()
	require.Equal(t, "AMD", cpu.Vendor)
	require.True(t, cpu.NeedsEmulatedCPU)
}

func TestDetectIntelHybrid(t *testing.T) {
	withCPUInfo(t, `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 183
model name	: 13th Gen Intel(R) Core(TM) i9-13900K

`)

	cpu := Detect()
	require.Equal(t, "Intel", cpu.Vendor)
	require.Equal(t, 6, cpu.Family)
	require.Equal(t, 183, cpu.Model)
	require.True(t, cpu.NeedsEmulatedCPU)
}

func TestDetectIntelNonHybrid(t *testing.T) {
	withCPUInfo(t, `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 85
model name	: Intel(R) Xeon(R) Gold 6132 CPU @ 2.60GHz

`)

	cpu := Detect()
	require.False(t, cpu.NeedsEmulatedCPU)
}

func TestDetectFutureIntelModelAssumedHybrid(t *testing.T) {
	withCPUInfo(t, `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 198
model name	: Intel(R) Core(TM) Ultra 9

`)

	require.True(t, Detect().NeedsEmulatedCPU)
}

func TestDetectMissingProcfsDefaultsToIntel(t *testing.T) {
	previous := procCPUInfoPath
	procCPUInfoPath = filepath.Join(t.TempDir(), "nonexistent")
	t.Cleanup(func() { procCPUInfoPath = previous })

	cpu := Detect()
	require.Equal(t, "Intel", cpu.Vendor)
	require.False(t, cpu.NeedsEmulatedCPU)
}
