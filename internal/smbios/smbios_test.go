package smbios_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/lucid-fabrics/proxmac/internal/smbios"
	"github.com/stretchr/testify/require"
)

const base34Alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

func TestCosmeticIdentity(t *testing.T) {
	identity, err := smbios.Generate("MacPro7,1", false)
	require.NoError(t, err)

	require.Len(t, identity.Serial, 12)
	require.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{12}$`), identity.Serial)
	require.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{17}$`), identity.MLB)
	require.Len(t, identity.ROM, 6)
	require.Equal(t, strings.ToUpper(identity.UUID), identity.UUID)
	require.Empty(t, identity.MAC)
}

func TestCosmeticIdentityUnknownModelAllowed(t *testing.T) {
	// Cosmetic mode has no model-specific constants to consult.
	_, err := smbios.Generate("Macmini9,1", false)
	require.NoError(t, err)
}

func TestHardwareIdentityUnknownModelFatal(t *testing.T) {
	_, err := smbios.Generate("PowerMac1,1", true)
	require.ErrorIs(t, err, smbios.ErrUnknownModel)
}

func TestHardwareIdentityROMMatchesMAC(t *testing.T) {
	identity, err := smbios.Generate("MacPro7,1", true, smbios.WithMAC("02:AB:CD:EF:01:23"))
	require.NoError(t, err)

	require.Equal(t, []byte{0x02, 0xab, 0xcd, 0xef, 0x01, 0x23}, identity.ROM)
	require.Equal(t, "02ABCDEF0123", identity.ROMHex())
}

func TestHardwareIdentityReusesSuppliedUUID(t *testing.T) {
	const existing = "A1B2C3D4-E5F6-4789-ABCD-EF0123456789"

	identity, err := smbios.Generate("MacPro7,1", true, smbios.WithUUID(existing))
	require.NoError(t, err)
	require.Equal(t, existing, identity.UUID)
}

func TestMLBChecksumVectors(t *testing.T) {
	vectors := map[string]bool{
		"F5K927200GUJCL4D0U": true,
		"C02133405QXKGYFP0E": true,
		"F5K008609J9MW2F70L": true,
		"C02901102CDGQ17C0Q": true,
		// Same bodies, wrong checksum digits.
		"F5K927200GUJCL4D0V": false,
		"C02133405QXKGYFP00": false,
		// Wrong lengths.
		"F5K927200GUJCL4D0":   false,
		"F5K927200GUJCL4D0UU": false,
	}

	for mlb, valid := range vectors {
		require.Equal(t, valid, smbios.VerifyMLB(mlb), "MLB %q", mlb)
	}
}

func TestHardwareIdentityProperties(t *testing.T) {
	countryCodes := smbios.CountryCodes("MacPro7,1")
	require.NotEmpty(t, countryCodes)

	for i := 0; i < 1000; i++ {
		identity, err := smbios.Generate("MacPro7,1", true)
		require.NoError(t, err)

		// Serial: fixed length, base-34 body after the country code.
		require.Len(t, identity.Serial, 12)

		// MLB: 18 characters, round-trip checksum invariant.
		require.Len(t, identity.MLB, 18)
		require.True(t, smbios.VerifyMLB(identity.MLB), "MLB %q failed checksum", identity.MLB)
		for _, char := range identity.MLB {
			require.Contains(t, base34Alphabet, string(char))
		}

		// Country code drawn only from the model whitelist.
		require.Contains(t, countryCodes, identity.MLB[:3])
		require.Contains(t, countryCodes, identity.Serial[:3])

		// MLB year digit within the model's production range (2019-2023).
		require.Contains(t, "90123", string(identity.MLB[3]))

		// ROM consistent with the generated MAC.
		rom, err := smbios.ROMFromMAC(identity.MAC)
		require.NoError(t, err)
		require.Equal(t, rom, identity.ROM)
	}
}

func TestGenerateMACIsLocallyAdministeredUnicast(t *testing.T) {
	for i := 0; i < 100; i++ {
		mac, err := smbios.GenerateMAC()
		require.NoError(t, err)

		rom, err := smbios.ROMFromMAC(mac)
		require.NoError(t, err)
		require.Equal(t, byte(0x02), rom[0]&0x03)
	}
}

func TestROMFromMACRejectsGarbage(t *testing.T) {
	_, err := smbios.ROMFromMAC("not-a-mac")
	require.ErrorIs(t, err, smbios.ErrInvalidMAC)
}
