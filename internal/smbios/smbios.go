// Package smbios generates Apple hardware identities (serial, MLB, ROM,
// UUID, SMBIOS model) for virtualized guests.
//
// Two modes exist: the default cosmetic mode produces uniformly random
// alphanumeric values that only look right, while the hardware-identity
// mode reproduces Apple's manufacturing encoding closely enough to pass
// the format validation performed by identity-dependent services.
package smbios

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnknownModel = errors.New("unknown SMBIOS model")
	ErrInvalidMAC   = errors.New("invalid MAC address")
)

const (
	serialLength = 12
	mlbLength    = 18
	romLength    = 6
)

// Identity is the hardware identity applied to both the hypervisor's
// SMBIOS record and the firmware's platform-information block. The same
// values must appear in both places or activation validation fails.
type Identity struct {
	Serial string
	MLB    string
	UUID   string
	ROM    []byte
	Model  string

	// MAC is the guest NIC address the ROM value was derived from.
	// Only set in hardware-identity mode.
	MAC string
}

func (identity *Identity) ROMHex() string {
	return strings.ToUpper(hex.EncodeToString(identity.ROM))
}

type Option func(*options)

type options struct {
	uuid string
	mac  string
}

// WithUUID reuses an existing machine UUID instead of generating a fresh
// one, to support re-provisioning an existing identity.
func WithUUID(existing string) Option {
	return func(opts *options) {
		opts.uuid = existing
	}
}

// WithMAC pins the guest NIC MAC address the ROM is derived from.
func WithMAC(mac string) Option {
	return func(opts *options) {
		opts.mac = mac
	}
}

// Generate produces an identity for the given SMBIOS model.
//
// In hardware-identity mode the serial and MLB follow Apple's checksummed
// manufacturing encoding, a static guest MAC is chosen (unless pinned via
// WithMAC) and the ROM is derived from it. An unknown model is fatal in
// this mode: there is no safe fallback, an inconsistent identity fails
// activation silently rather than loudly.
func Generate(model string, hardwareIdentity bool, opts ...Option) (*Identity, error) {
	var settings options
	for _, opt := range opts {
		opt(&settings)
	}

	identity := &Identity{
		Model: model,
		UUID:  settings.uuid,
	}

	if identity.UUID == "" {
		identity.UUID = strings.ToUpper(uuid.New().String())
	}

	if !hardwareIdentity {
		serial, err := randomAlphanumeric(serialLength)
		if err != nil {
			return nil, err
		}
		mlb, err := randomAlphanumeric(mlbLength - 1)
		if err != nil {
			return nil, err
		}
		rom, err := randomBytes(romLength)
		if err != nil {
			return nil, err
		}

		identity.Serial = serial
		identity.MLB = mlb
		identity.ROM = rom

		return identity, nil
	}

	params, ok := modelTable[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	serial, err := appleSerial(params)
	if err != nil {
		return nil, err
	}
	mlb, err := appleMLB(params)
	if err != nil {
		return nil, err
	}

	identity.Serial = serial
	identity.MLB = mlb

	identity.MAC = settings.mac
	if identity.MAC == "" {
		identity.MAC, err = GenerateMAC()
		if err != nil {
			return nil, err
		}
	}

	identity.ROM, err = ROMFromMAC(identity.MAC)
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// ROMFromMAC derives the ROM value from the literal bytes of the guest's
// MAC address. macOS cross-checks ROM against the NIC during Apple ID
// validation, so the two must agree.
func ROMFromMAC(mac string) ([]byte, error) {
	hardwareAddr, err := net.ParseMAC(mac)
	if err != nil || len(hardwareAddr) != romLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	return hardwareAddr, nil
}

// GenerateMAC returns a random unicast MAC with the locally-administered
// bit set, suitable as a static guest NIC address.
func GenerateMAC() (string, error) {
	raw, err := randomBytes(romLength)
	if err != nil {
		return "", err
	}

	raw[0] = raw[0]&0xfe | 0x02

	parts := make([]string, len(raw))
	for i, octet := range raw {
		parts[i] = fmt.Sprintf("%02X", octet)
	}

	return strings.Join(parts, ":"), nil
}
