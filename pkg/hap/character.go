package hap

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
)

const (
	defaultMaxLen     = 64
	defaultMaxDataLen = 2097152
)

type Character struct {
	IID         uint64    `json:"iid"`
	Type        string    `json:"type"`
	Format      string    `json:"format"`
	Value       any       `json:"value,omitempty"`
	Perms       []string  `json:"perms"`
	Description string    `json:"description,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	MinValue    *float64  `json:"minValue,omitempty"`
	MaxValue    *float64  `json:"maxValue,omitempty"`
	MinStep     *float64  `json:"minStep,omitempty"`
	MaxLen      int       `json:"maxLen,omitempty"`
	MaxDataLen  int       `json:"maxDataLen,omitempty"`
	ValidValues []float64 `json:"valid-values,omitempty"`

	key string // stable iid key of property
}

func (c *Character) Readable() bool {
	return slices.Contains(c.Perms, PermPairedRead)
}

func (c *Character) Writable() bool {
	return slices.Contains(c.Perms, PermPairedWrite)
}

func (c *Character) Notifies() bool {
	return slices.Contains(c.Perms, PermEvents)
}

// Write new value with right format
func (c *Character) Write(v any) (err error) {
	if v, err = c.Validate(v); err == nil {
		c.Value = v
	}
	return
}

// Validate checks format and constraints and returns value in the format
// type: bool, int64, uint64, float64 or string
func (c *Character) Validate(v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: null value", ErrInvalidValue)
	}

	switch c.Format {
	case FormatBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		// controllers may send 0 and 1 for bool
		if f, ok := toFloat(v); ok && (f == 0 || f == 1) {
			return f == 1, nil
		}
		return nil, fmt.Errorf("%w: %v is not bool", ErrInvalidValue, v)

	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64, FormatInt:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %v is not integer", ErrInvalidValue, v)
		}

		lo, hi := formatRange(c.Format)
		if f < lo || f > hi {
			return nil, fmt.Errorf("%w: %v out of %s range", ErrInvalidValue, v, c.Format)
		}

		if err := c.validateNumber(f); err != nil {
			return nil, err
		}

		if c.Format == FormatUInt64 {
			return uint64(f), nil
		}
		return int64(f), nil

	case FormatFloat:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v is not number", ErrInvalidValue, v)
		}

		if err := c.validateNumber(f); err != nil {
			return nil, err
		}
		return f, nil

	case FormatString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not string", ErrInvalidValue, v)
		}

		maxLen := c.MaxLen
		if maxLen == 0 {
			maxLen = defaultMaxLen
		}
		if len(s) > maxLen {
			return nil, fmt.Errorf("%w: string longer than %d", ErrInvalidValue, maxLen)
		}
		return s, nil

	case FormatData, FormatTLV8:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v is not base64", ErrInvalidValue, v)
		}

		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}

		maxLen := c.MaxDataLen
		if maxLen == 0 {
			maxLen = defaultMaxDataLen
		}
		if len(b) > maxLen {
			return nil, fmt.Errorf("%w: data longer than %d", ErrInvalidValue, maxLen)
		}

		if c.Format == FormatTLV8 {
			if _, err = tlv8.Decode(b); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
		}
		return s, nil
	}

	return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidValue, c.Format)
}

func (c *Character) validateNumber(f float64) error {
	if c.MinValue != nil && f < *c.MinValue {
		return fmt.Errorf("%w: %v less than %v", ErrInvalidValue, f, *c.MinValue)
	}

	if c.MaxValue != nil && f > *c.MaxValue {
		return fmt.Errorf("%w: %v greater than %v", ErrInvalidValue, f, *c.MaxValue)
	}

	if c.MinStep != nil && *c.MinStep > 0 {
		var base float64
		if c.MinValue != nil {
			base = *c.MinValue
		}
		steps := (f - base) / *c.MinStep
		if math.Abs(steps-math.Round(steps)) > 1e-6 {
			return fmt.Errorf("%w: %v not multiple of step %v", ErrInvalidValue, f, *c.MinStep)
		}
	}

	if c.ValidValues != nil && !slices.Contains(c.ValidValues, f) {
		return fmt.Errorf("%w: %v not in valid values", ErrInvalidValue, f)
	}

	return nil
}

func (c *Character) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "ERROR"
	}
	return string(data)
}

func formatRange(format string) (float64, float64) {
	switch format {
	case FormatUInt8:
		return 0, math.MaxUint8
	case FormatUInt16:
		return 0, math.MaxUint16
	case FormatUInt32:
		return 0, math.MaxUint32
	case FormatUInt64:
		return 0, math.MaxUint64
	case FormatInt:
		return math.MinInt32, math.MaxInt32
	}
	return math.Inf(-1), math.Inf(1)
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
