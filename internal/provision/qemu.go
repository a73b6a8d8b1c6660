package provision

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lucid-fabrics/proxmac/internal/cpuinfo"
	"github.com/lucid-fabrics/proxmac/internal/smbios"
)

// The AppleSMC OSK is required for macOS to boot under QEMU; it has
// been public knowledge since the original Mac OS X 10.6 VMware work.
const appleSMCOSK = "ourhardworkbythesewordsguardedpleasedontsteal(c)AppleComputerInc"

// cpuArgs returns the QEMU -cpu flag for the host CPU.
//
// An override (e.g. "Skylake-Server-IBRS") is used verbatim with the
// standard KVM flags. Hosts needing an emulated CPU get
// Cascadelake-Server: AMD has no native macOS support, and hybrid Intel
// parts fail macOS hardware validation on their P+E core topology.
// Everything else runs with native passthrough.
func cpuArgs(cpu cpuinfo.CPU, override string) string {
	if override != "" {
		return fmt.Sprintf("-cpu %s,kvm=on,vendor=GenuineIntel,+invtsc,vmware-cpuid-freq=on", override)
	}

	if cpu.NeedsEmulatedCPU {
		return "-cpu Cascadelake-Server," +
			"vendor=GenuineIntel," +
			"+invtsc," +
			"-pcid," +
			"-hle,-rtm," +
			"-avx512f,-avx512dq,-avx512cd,-avx512bw,-avx512vl,-avx512vnni," +
			"kvm=on," +
			"vmware-cpuid-freq=on"
	}

	return "-cpu host,kvm=on,vendor=GenuineIntel,+kvm_pv_unhalt,+kvm_pv_eoi,+hypervisor,+invtsc,vmware-cpuid-freq=on"
}

// hardwareProfileArgs is the QEMU argument line that makes the guest
// look like a Mac: AppleSMC with the OSK, USB input devices and the
// CPU flag.
func hardwareProfileArgs(cpu cpuinfo.CPU, override string) string {
	return fmt.Sprintf("-device isa-applesmc,osk=\"%s\" "+
		"-smbios type=2 -device qemu-xhci -device usb-kbd -device usb-tablet "+
		"-global nec-usb-xhci.msi=off -global ICH9-LPC.acpi-pci-hotplug-with-bridge-support=off "+
		"%s", appleSMCOSK, cpuArgs(cpu, override))
}

// smbios1Value renders the --smbios1 value for an identity. Free-form
// fields are base64-encoded, as Proxmox requires for values that may
// contain commas or spaces.
func smbios1Value(identity *smbios.Identity) string {
	encode := func(value string) string {
		return base64.StdEncoding.EncodeToString([]byte(value))
	}

	return strings.Join([]string{
		"uuid=" + identity.UUID,
		"base64=1",
		"serial=" + encode(identity.Serial),
		"manufacturer=" + encode("Apple Inc."),
		"product=" + encode(identity.Model),
		"family=" + encode("Mac"),
	}, ",")
}
