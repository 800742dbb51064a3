package hap

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Device is a snapshot of platform device. Each device becomes one bridged accessory.
type Device struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Category     byte      `yaml:"category" json:"category,omitempty"`
	Manufacturer string    `yaml:"manufacturer" json:"manufacturer,omitempty"`
	Model        string    `yaml:"model" json:"model,omitempty"`
	Serial       string    `yaml:"serial" json:"serial,omitempty"`
	Firmware     string    `yaml:"firmware" json:"firmware,omitempty"`
	Parent       string    `yaml:"parent" json:"parent,omitempty"`
	Channels     []Channel `yaml:"channels" json:"channels"`
}

type DeviceKind byte

const (
	DeviceGeneric DeviceKind = iota
	// DeviceBridgedChild is a device behind other platform device (ex. Zigbee gateway)
	DeviceBridgedChild
)

func (d *Device) Kind() DeviceKind {
	if d.Parent != "" {
		return DeviceBridgedChild
	}
	return DeviceGeneric
}

// Channel becomes one service
type Channel struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name,omitempty"`
	Service    string     `yaml:"service" json:"service"`
	Primary    bool       `yaml:"primary" json:"primary,omitempty"`
	Hidden     bool       `yaml:"hidden" json:"hidden,omitempty"`
	Linked     []string   `yaml:"linked" json:"linked,omitempty"`
	Properties []Property `yaml:"properties" json:"properties"`
}

// Property becomes one characteristic
type Property struct {
	ID string `yaml:"id" json:"id"`
	// Type of HAP characteristic, short ("25") or full UUID
	Type string `yaml:"type" json:"type"`
	// DataType of platform ("bool", "uchar", "float", ...) or HAP format
	DataType string `yaml:"data_type" json:"data_type"`
	// Format of platform: "0:100" range or "0,1,2" list of valid values
	Format      string    `yaml:"format" json:"format,omitempty"`
	Perms       []string  `yaml:"perms" json:"perms,omitempty"`
	Unit        string    `yaml:"unit" json:"unit,omitempty"`
	MinValue    *float64  `yaml:"min" json:"min,omitempty"`
	MaxValue    *float64  `yaml:"max" json:"max,omitempty"`
	MinStep     *float64  `yaml:"step" json:"step,omitempty"`
	MaxLen      int       `yaml:"max_len" json:"max_len,omitempty"`
	ValidValues []float64 `yaml:"valid_values" json:"valid_values,omitempty"`
	Value       any       `yaml:"value" json:"value,omitempty"`
}

// PropertyRef addresses property in the state store
type PropertyRef struct {
	Device   string
	Channel  string
	Property string
}

func (r PropertyRef) String() string {
	return r.Device + "/" + r.Channel + "/" + r.Property
}

// Configuration source of devices
type Configuration interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// StateStore holds authoritative property values
type StateStore interface {
	ReadValue(ctx context.Context, ref PropertyRef) (any, error)
	WriteValue(ctx context.Context, ref PropertyRef, value any) error
}

// StaticConfiguration is a fixed list of devices, ex. from YAML config
type StaticConfiguration []Device

func (c StaticConfiguration) ListDevices(context.Context) ([]Device, error) {
	return c, nil
}

// MemoryState keeps values in memory
type MemoryState struct {
	values map[PropertyRef]any
	mu     sync.RWMutex
}

func NewMemoryState() *MemoryState {
	return &MemoryState{values: map[PropertyRef]any{}}
}

func (m *MemoryState) ReadValue(_ context.Context, ref PropertyRef) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[ref]
	if !ok {
		return nil, ErrResourceDoesNotExist
	}
	return v, nil
}

func (m *MemoryState) WriteValue(_ context.Context, ref PropertyRef, value any) error {
	m.mu.Lock()
	m.values[ref] = value
	m.mu.Unlock()
	return nil
}

// FormatOf returns HAP format for platform data type
func FormatOf(dataType string) string {
	switch strings.ToLower(dataType) {
	case "bool", "boolean", "switch", "button":
		return FormatBool
	case "uchar", "uint8", "enum":
		return FormatUInt8
	case "ushort", "uint16":
		return FormatUInt16
	case "uint", "uint32":
		return FormatUInt32
	case "uint64":
		return FormatUInt64
	case "char", "short", "int", "int32":
		return FormatInt
	case "float", "number":
		return FormatFloat
	case "string", "":
		return FormatString
	case "data":
		return FormatData
	case "tlv8":
		return FormatTLV8
	}
	return ""
}

// parseFormat reads platform format: "min:max" or list "a,b,c"
func parseFormat(s string) (minValue, maxValue *float64, validValues []float64, ok bool) {
	if s == "" {
		return nil, nil, nil, true
	}

	if s1, s2, found := strings.Cut(s, ":"); found {
		if s1 != "" {
			f, err := strconv.ParseFloat(s1, 64)
			if err != nil {
				return nil, nil, nil, false
			}
			minValue = &f
		}
		if s2 != "" {
			f, err := strconv.ParseFloat(s2, 64)
			if err != nil {
				return nil, nil, nil, false
			}
			maxValue = &f
		}
		return minValue, maxValue, nil, true
	}

	for _, item := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil {
			return nil, nil, nil, false
		}
		validValues = append(validValues, f)
	}
	return nil, nil, validValues, true
}
