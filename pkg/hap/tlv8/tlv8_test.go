package tlv8

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	type Struct struct {
		Byte    byte    `tlv8:"1"`
		Uint16  uint16  `tlv8:"2"`
		Uint32  uint32  `tlv8:"3"`
		Float32 float32 `tlv8:"4"`
		String  string  `tlv8:"5"`
		Slice   []byte  `tlv8:"6"`
		Array   [4]byte `tlv8:"7"`
		Uint64  uint64  `tlv8:"8"`
	}

	src := Struct{
		Byte:    1,
		Uint16:  2,
		Uint32:  3,
		Float32: 1.23,
		String:  "123",
		Slice:   []byte{1, 2, 3},
		Array:   [4]byte{1, 2, 3, 4},
		Uint64:  1 << 40,
	}

	b, err := Marshal(src)
	require.Nil(t, err)

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src, dst)
}

func TestBytes(t *testing.T) {
	bytes := make([]byte, 255)
	for i := 0; i < len(bytes); i++ {
		bytes[i] = byte(i)
	}

	type Struct struct {
		String string `tlv8:"1"`
	}
	src := Struct{
		String: string(bytes),
	}

	b, err := Marshal(src)
	require.Nil(t, err)
	require.Len(t, b, 2+255+2)

	var dst Struct
	err = Unmarshal(b, &dst)
	require.Nil(t, err)

	require.Equal(t, src, dst)
	require.Equal(t, bytes, []byte(dst.String))
}

func TestPairSetupM1(t *testing.T) {
	var m1 struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}

	// iOS also sends Flags (type 19), unknown items are skipped
	src, err := hex.DecodeString("000100060101130400000000")
	require.Nil(t, err)

	err = Unmarshal(src, &m1)
	require.Nil(t, err)
	require.Equal(t, byte(0), m1.Method)
	require.Equal(t, byte(1), m1.State)
}

func TestEncodeLength(t *testing.T) {
	tests := []struct {
		size  int
		wire  int
		items int
	}{
		{size: 0, wire: 2, items: 1},
		{size: 1, wire: 3, items: 1},
		{size: 254, wire: 256, items: 1},
		{size: 255, wire: 259, items: 2},
		{size: 256, wire: 260, items: 2},
		{size: 509, wire: 513, items: 2},
		{size: 510, wire: 516, items: 3},
	}

	for _, test := range tests {
		value := bytes.Repeat([]byte{0xAB}, test.size)
		b := Encode(Item{Type: 3, Value: value})
		require.Len(t, b, test.wire, "size %d", test.size)

		// count chunk headers
		var n int
		for i := 0; i < len(b); i += 2 + int(b[i+1]) {
			require.Equal(t, byte(3), b[i])
			n++
		}
		require.Equal(t, test.items, n, "size %d", test.size)

		items, err := Decode(b)
		require.Nil(t, err)
		require.Equal(t, []Item{{Type: 3, Value: value}}, items)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{0, 254, 255, 256, 509, 510} {
		src := []Item{
			{Type: 6, Value: []byte{2}},
			{Type: 3, Value: bytes.Repeat([]byte{1}, size)},
			{Type: 4, Value: bytes.Repeat([]byte{2}, size)},
			{Type: 6, Value: []byte{}},
		}

		dst, err := Decode(Encode(src...))
		require.Nil(t, err)
		require.Equal(t, src, dst, "size %d", size)
	}
}

func TestGroups(t *testing.T) {
	groups := [][]Item{
		{{Type: 1, Value: []byte("a")}, {Type: 11, Value: []byte{1}}},
		{{Type: 1, Value: []byte("b")}, {Type: 11, Value: []byte{0}}},
	}

	b := EncodeGroups(groups...)
	require.Equal(t, "0101610b0101ff000101620b0100", hex.EncodeToString(b))

	dst, err := DecodeGroups(b)
	require.Nil(t, err)
	require.Equal(t, groups, dst)
}

func TestMalformed(t *testing.T) {
	tests := map[string]string{
		"header":    "06",
		"length":    "060401",
		"separator": "ff0100",
		"chunk":     "03ff" + hex.EncodeToString(make([]byte, 255)) + "0305",
	}

	for name, s := range tests {
		src, err := hex.DecodeString(s)
		require.Nil(t, err)

		_, err = Decode(src)
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestFind(t *testing.T) {
	items := []Item{{Type: 6, Value: []byte{1}}, {Type: 7, Value: []byte{2}}}

	v, ok := Find(items, 7)
	require.True(t, ok)
	require.Equal(t, []byte{2}, v)

	_, ok = Find(items, 1)
	require.False(t, ok)
}
