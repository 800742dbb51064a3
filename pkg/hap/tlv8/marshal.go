package tlv8

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strconv"
)

// Marshal encodes struct fields with `tlv8:"N"` tags. Zero numbers are
// written, empty strings/bytes and nil slices are skipped.
func Marshal(v any) ([]byte, error) {
	value := reflect.ValueOf(v)
	kind := value.Type().Kind()

	if kind == reflect.Pointer {
		value = value.Elem()
		kind = value.Type().Kind()
	}

	switch kind {
	case reflect.Struct:
		return appendStruct(nil, value)
	}

	return nil, errors.New("tlv8: not implemented: " + kind.String())
}

func appendStruct(b []byte, value reflect.Value) ([]byte, error) {
	valueType := value.Type()

	for i := 0; i < value.NumField(); i++ {
		refField := value.Field(i)
		s, ok := valueType.Field(i).Tag.Lookup("tlv8")
		if !ok {
			continue
		}

		tag, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}

		b, err = appendValue(b, byte(tag), refField)
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

func appendValue(b []byte, tag byte, value reflect.Value) ([]byte, error) {
	var err error

	switch value.Kind() {
	case reflect.Uint8:
		v := value.Uint()
		return append(b, tag, 1, byte(v)), nil

	case reflect.Uint16:
		v := value.Uint()
		return append(b, tag, 2, byte(v), byte(v>>8)), nil

	case reflect.Uint32:
		v := value.Uint()
		return append(b, tag, 4, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)), nil

	case reflect.Uint64:
		b = append(b, tag, 8)
		return binary.LittleEndian.AppendUint64(b, value.Uint()), nil

	case reflect.Float32:
		v := math.Float32bits(float32(value.Float()))
		return append(b, tag, 4, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)), nil

	case reflect.String:
		if value.Len() == 0 {
			return b, nil
		}
		return AppendItem(b, tag, []byte(value.String())), nil

	case reflect.Array:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			v := make([]byte, value.Len())
			for i := range v {
				v[i] = byte(value.Index(i).Uint())
			}
			return AppendItem(b, tag, v), nil
		}

	case reflect.Slice:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			if value.Len() == 0 {
				return b, nil
			}
			return AppendItem(b, tag, value.Bytes()), nil
		}

		for i := 0; i < value.Len(); i++ {
			if i > 0 {
				b = append(b, Separator, 0)
			}
			if b, err = appendValue(b, tag, value.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil

	case reflect.Struct:
		v, err := appendStruct(nil, value)
		if err != nil {
			return nil, err
		}
		return AppendItem(b, tag, v), nil
	}

	return nil, errors.New("tlv8: not implemented: " + value.Kind().String())
}

// Unmarshal decodes data into struct with `tlv8:"N"` tags. Items with
// unknown types are ignored.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("tlv8: unmarshal zero data")
	}

	value := reflect.ValueOf(v)
	kind := value.Kind()

	if kind != reflect.Pointer {
		return errors.New("tlv8: value should be pointer: " + kind.String())
	}

	value = value.Elem()
	kind = value.Kind()

	if kind == reflect.Interface {
		value = value.Elem()
		kind = value.Kind()
	}

	if kind != reflect.Struct {
		return errors.New("tlv8: not implemented: " + kind.String())
	}

	items, err := Decode(data)
	if err != nil {
		return err
	}

	return unmarshalStruct(items, value)
}

func unmarshalStruct(items []Item, value reflect.Value) error {
	for _, item := range items {
		if item.Type == Separator {
			continue
		}

		valueField, ok := getStructField(value, strconv.Itoa(int(item.Type)))
		if !ok {
			continue
		}

		if err := unmarshalValue(item.Value, valueField); err != nil {
			return err
		}
	}

	return nil
}

func unmarshalValue(v []byte, value reflect.Value) error {
	if expected := fixedSize(value.Kind()); expected > 0 && len(v) != expected {
		return errors.New("tlv8: wrong size: " + value.Type().String())
	}

	switch value.Kind() {
	case reflect.Uint8:
		value.SetUint(uint64(v[0]))

	case reflect.Uint16:
		value.SetUint(uint64(binary.LittleEndian.Uint16(v)))

	case reflect.Uint32:
		value.SetUint(uint64(binary.LittleEndian.Uint32(v)))

	case reflect.Uint64:
		value.SetUint(binary.LittleEndian.Uint64(v))

	case reflect.Float32:
		f := math.Float32frombits(binary.LittleEndian.Uint32(v))
		value.SetFloat(float64(f))

	case reflect.String:
		value.SetString(string(v))

	case reflect.Array:
		if kind := value.Type().Elem().Kind(); kind != reflect.Uint8 {
			return errors.New("tlv8: unsupported array: " + kind.String())
		}
		if len(v) != value.Len() {
			return errors.New("tlv8: wrong size: " + value.Type().String())
		}
		for i, b := range v {
			value.Index(i).SetUint(uint64(b))
		}

	case reflect.Slice:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			value.SetBytes(v)
			return nil
		}
		i := growSlice(value)
		return unmarshalValue(v, value.Index(i))

	case reflect.Struct:
		items, err := Decode(v)
		if err != nil {
			return err
		}
		return unmarshalStruct(items, value)

	default:
		return errors.New("tlv8: not implemented: " + value.Kind().String())
	}

	return nil
}

func fixedSize(kind reflect.Kind) int {
	switch kind {
	case reflect.Uint8:
		return 1
	case reflect.Uint16:
		return 2
	case reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Uint64:
		return 8
	}
	return 0
}

func getStructField(value reflect.Value, tag string) (reflect.Value, bool) {
	valueType := value.Type()

	for i := 0; i < value.NumField(); i++ {
		valueField := value.Field(i)

		if s, ok := valueType.Field(i).Tag.Lookup("tlv8"); ok && s == tag {
			return valueField, true
		}
	}

	return reflect.Value{}, false
}

func growSlice(value reflect.Value) int {
	size := value.Len()

	if size >= value.Cap() {
		newcap := value.Cap() + value.Cap()/2
		if newcap < 4 {
			newcap = 4
		}
		newValue := reflect.MakeSlice(value.Type(), value.Len(), newcap)
		reflect.Copy(newValue, value)
		value.Set(newValue)
	}

	if size >= value.Len() {
		value.SetLen(size + 1)
	}

	return size
}
