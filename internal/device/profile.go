// internal/device/profile.go
package device

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Profile describes a device model: what it can do and how to drive it
type Profile struct {
	Name      string `yaml:"name" validate:"required"`
	Vibrators uint32 `yaml:"vibrators" validate:"lte=16"`
	Rotators  uint32 `yaml:"rotators" validate:"lte=16"`
	Linear    uint32 `yaml:"linear" validate:"lte=16"`

	// Scale is the integer range speeds and positions are mapped to
	Scale uint32 `yaml:"scale"`

	// WriteRate limits hardware writes per second. Zero means unlimited.
	WriteRate float64 `yaml:"write_rate" validate:"gte=0"`

	Commands Commands `yaml:"commands"`
	Match    Match    `yaml:"match"`
	Serial   Serial   `yaml:"serial"`
}

// Commands are line templates. Placeholders: {index} {speed} {clockwise}
// {position} {duration}.
type Commands struct {
	Vibrate string `yaml:"vibrate"`
	Rotate  string `yaml:"rotate"`
	Linear  string `yaml:"linear"`
	Stop    string `yaml:"stop"`
}

// Match selects the hardware a profile applies to
type Match struct {
	USBVendorID  string `yaml:"usb_vendor_id" validate:"omitempty,hexadecimal"`
	USBProductID string `yaml:"usb_product_id" validate:"omitempty,hexadecimal"`
	SerialPort   string `yaml:"serial_port"`
	Virtual      bool   `yaml:"virtual"`
}

// Serial holds line settings used when the profile matches a serial port
type Serial struct {
	BaudRate int    `yaml:"baud_rate" validate:"omitempty,gt=0"`
	Parity   string `yaml:"parity" validate:"omitempty,oneof=none odd even"`
}

type profileFile struct {
	Profiles []*Profile `yaml:"profiles" validate:"dive"`
}

var profileValidator = validator.New()

// DefaultScale is used when a profile does not set one
const DefaultScale = 100

// LoadProfiles reads a YAML profile file
func LoadProfiles(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates YAML profile data
func ParseProfiles(data []byte) ([]*Profile, error) {
	var file profileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}

	if err := profileValidator.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	seen := make(map[string]bool, len(file.Profiles))
	for _, p := range file.Profiles {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile name: %s", p.Name)
		}
		seen[p.Name] = true

		if err := p.check(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		if p.Scale == 0 {
			p.Scale = DefaultScale
		}
	}
	return file.Profiles, nil
}

// check verifies that every declared actuator family has a command
func (p *Profile) check() error {
	if p.Vibrators+p.Rotators+p.Linear == 0 {
		return fmt.Errorf("no actuators declared")
	}
	if p.Vibrators > 0 && p.Commands.Vibrate == "" {
		return fmt.Errorf("vibrators declared without a vibrate command")
	}
	if p.Rotators > 0 && p.Commands.Rotate == "" {
		return fmt.Errorf("rotators declared without a rotate command")
	}
	if p.Linear > 0 && p.Commands.Linear == "" {
		return fmt.Errorf("linear actuators declared without a linear command")
	}
	return nil
}

// USBIDs returns the parsed vendor and product ids. ok is false when the
// profile does not match USB hardware.
func (p *Profile) USBIDs() (vendor, product uint16, ok bool) {
	if p.Match.USBVendorID == "" || p.Match.USBProductID == "" {
		return 0, 0, false
	}
	v, err := parseHexID(p.Match.USBVendorID)
	if err != nil {
		return 0, 0, false
	}
	pr, err := parseHexID(p.Match.USBProductID)
	if err != nil {
		return 0, 0, false
	}
	return v, pr, true
}

func parseHexID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(id), nil
}
