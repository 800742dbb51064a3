package tlv8

import (
	"errors"
	"fmt"
)

// Separator divides groups of items (list pairings response, struct slices)
const Separator = 0xFF

// chunk is the max value length of single TLV item on the wire
const chunk = 255

var ErrMalformed = errors.New("tlv8: malformed data")

type Item struct {
	Type  byte
	Value []byte
}

func (i Item) String() string {
	return fmt.Sprintf("T=%d,L=%d,V=%x", i.Type, len(i.Value), i.Value)
}

// Encode concatenates items. Values longer than 254 bytes are split into
// chunks of 255 bytes and always finished with a shorter chunk, so a value
// of exactly 255 bytes ends with a zero-length item of the same type.
func Encode(items ...Item) []byte {
	var b []byte
	for _, item := range items {
		b = AppendItem(b, item.Type, item.Value)
	}
	return b
}

// EncodeGroups joins groups with separator items
func EncodeGroups(groups ...[]Item) []byte {
	var b []byte
	for i, group := range groups {
		if i > 0 {
			b = append(b, Separator, 0)
		}
		b = append(b, Encode(group...)...)
	}
	return b
}

func AppendItem(b []byte, typ byte, v []byte) []byte {
	for len(v) >= chunk {
		b = append(b, typ, chunk)
		b = append(b, v[:chunk]...)
		v = v[chunk:]
	}
	b = append(b, typ, byte(len(v)))
	return append(b, v...)
}

// Decode splits data into items and joins chunked values back. A run of
// the same type continues only after a full 255 byte chunk.
func Decode(b []byte) ([]Item, error) {
	var items []Item

	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
		}

		t, l := b[0], int(b[1])
		if t == Separator && l != 0 {
			return nil, fmt.Errorf("%w: separator with length %d", ErrMalformed, l)
		}

		if len(b) < 2+l {
			return nil, fmt.Errorf("%w: T=%d,L=%d out of range", ErrMalformed, t, l)
		}

		// copy, so values don't share memory with the input buffer
		v := append([]byte{}, b[2:2+l]...)
		b = b[2+l:]

		for l == chunk && len(b) >= 2 && b[0] == t {
			l = int(b[1])
			if len(b) < 2+l {
				return nil, fmt.Errorf("%w: T=%d,L=%d out of range", ErrMalformed, t, l)
			}
			v = append(v, b[2:2+l]...)
			b = b[2+l:]
		}

		items = append(items, Item{Type: t, Value: v})
	}

	return items, nil
}

// DecodeGroups returns items grouped by separators
func DecodeGroups(b []byte) ([][]Item, error) {
	items, err := Decode(b)
	if err != nil {
		return nil, err
	}

	var groups [][]Item
	var group []Item

	for _, item := range items {
		if item.Type == Separator {
			groups = append(groups, group)
			group = nil
			continue
		}
		group = append(group, item)
	}

	if group != nil || len(groups) > 0 {
		groups = append(groups, group)
	}

	return groups, nil
}

// Find returns the value of the first item with the type
func Find(items []Item, typ byte) ([]byte, bool) {
	for _, item := range items {
		if item.Type == typ {
			return item.Value, true
		}
	}
	return nil, false
}
