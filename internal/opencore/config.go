// Package opencore builds the bootable OpenCore disk image for a macOS
// guest: a GPT disk with a single EFI System Partition populated from a
// release OpenCore image, with config.plist patched for the target
// macOS version and hardware identity.
package opencore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"howett.net/plist"

	"github.com/lucid-fabrics/proxmac/internal/smbios"
)

var (
	ErrPatchFailed        = errors.New("failed to patch config.plist")
	ErrCorruptSourceImage = errors.New("source image is not a usable OpenCore image")
)

// Apple's NVRAM variable GUID for boot-args, csr-active-config and
// friends.
const appleNVRAMGUID = "7C436110-AB2A-4BBB-A880-FE41995C9F82"

const defaultBootArgs = "keepsyms=1 debug=0x100"

// SIP fully disabled; the guest runs unsigned kernel extensions.
var csrActiveConfig = []byte{0x67, 0x0f, 0x00, 0x00}

// ConfigPatch selects the optional parts of the config.plist rewrite.
type ConfigPatch struct {
	// VerboseBoot appends -v to the kernel boot arguments.
	VerboseBoot bool

	// EmulatedCPU flips the power-management lock quirks needed when the
	// guest CPU is emulated rather than passed through.
	EmulatedCPU bool

	// Identity, when set, is written into PlatformInfo/Generic so the
	// guest boots with a concrete Apple hardware identity.
	Identity *smbios.Identity
}

// PatchConfig rewrites an OpenCore config.plist in place.
//
// SecureBootModel=Disabled and DmgLoading=Any are set unconditionally:
// the recovery media this pipeline produces is converted from Apple's
// compressed image and no longer carries a valid signature, and OpenCore
// refuses DmgLoading=Any under any other secure-boot model. The guest
// therefore boots with Apple secure boot off.
func PatchConfig(path string, patch ConfigPatch) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPatchFailed, err)
	}

	var root map[string]interface{}

	if _, err := plist.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("%w: %v", ErrPatchFailed, err)
	}

	if err := applyPatch(root, patch); err != nil {
		return err
	}

	patched, err := plist.MarshalIndent(root, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPatchFailed, err)
	}

	return os.WriteFile(path, patched, 0o644)
}

func applyPatch(root map[string]interface{}, patch ConfigPatch) error {
	security, err := dict(root, "Misc", "Security")
	if err != nil {
		return err
	}
	security["ScanPolicy"] = 0
	security["DmgLoading"] = "Any"
	security["SecureBootModel"] = "Disabled"

	boot, err := dict(root, "Misc", "Boot")
	if err != nil {
		return err
	}
	boot["Timeout"] = 15
	boot["PickerAttributes"] = 17
	boot["HideAuxiliary"] = true
	boot["PickerMode"] = "External"
	boot["PickerVariant"] = "Acidanthera\\Syrah"

	nvram, err := dict(root, "NVRAM")
	if err != nil {
		return err
	}

	bootArgs := defaultBootArgs
	if patch.VerboseBoot {
		bootArgs += " -v"
	}

	variables := ensureDict(ensureDict(nvram, "Add"), appleNVRAMGUID)
	variables["csr-active-config"] = csrActiveConfig
	variables["boot-args"] = bootArgs
	variables["prev-lang:kbd"] = []byte("en-US:0")

	// Stale NVRAM values on the host flash would shadow the Add entries.
	ensureDict(nvram, "Delete")[appleNVRAMGUID] = []string{
		"csr-active-config", "boot-args", "prev-lang:kbd",
	}
	nvram["WriteFlash"] = true

	if err := enableKext(root, "VirtualSMC"); err != nil {
		return err
	}

	if patch.EmulatedCPU {
		quirks, err := dict(root, "Kernel", "Quirks")
		if err != nil {
			return err
		}
		quirks["AppleCpuPmCfgLock"] = true
		quirks["AppleXcpmCfgLock"] = true
	}

	if patch.Identity != nil {
		identity := patch.Identity

		platformInfo := ensureDict(root, "PlatformInfo")
		generic := ensureDict(platformInfo, "Generic")
		generic["SystemSerialNumber"] = identity.Serial
		generic["SystemProductName"] = identity.Model
		generic["SystemUUID"] = identity.UUID
		generic["MLB"] = identity.MLB
		generic["ROM"] = identity.ROM
		platformInfo["UpdateSMBIOS"] = true
		platformInfo["UpdateDataHub"] = true
	}

	return nil
}

// enableKext sets Enabled on every Kernel/Add entry whose BundlePath
// mentions the given kext. Release OpenCore images ship with VirtualSMC
// disabled, and macOS will not boot without it.
func enableKext(root map[string]interface{}, name string) error {
	kernel, err := dict(root, "Kernel")
	if err != nil {
		return err
	}

	kexts, ok := kernel["Add"].([]interface{})
	if !ok {
		return fmt.Errorf("%w: Kernel/Add is not an array", ErrPatchFailed)
	}

	for _, entry := range kexts {
		kext, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		if bundlePath, ok := kext["BundlePath"].(string); ok && strings.Contains(bundlePath, name) {
			kext["Enabled"] = true
		}
	}

	return nil
}

func dict(root map[string]interface{}, path ...string) (map[string]interface{}, error) {
	current := root

	for i, key := range path {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: no %q dictionary", ErrPatchFailed,
				strings.Join(path[:i+1], "/"))
		}

		current = next
	}

	return current, nil
}

func ensureDict(parent map[string]interface{}, key string) map[string]interface{} {
	if existing, ok := parent[key].(map[string]interface{}); ok {
		return existing
	}

	created := map[string]interface{}{}
	parent[key] = created

	return created
}
