package homekit

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/stretchr/testify/require"
)

func TestCalcDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		seed     string
		expected string
	}{
		{
			name:     "Empty deviceID and seed",
			expected: "46:D2:5E:F2:FE:1A",
		},
		{
			name:     "Non-empty deviceID",
			deviceID: "AA:BB:CC:DD:EE:FF",
			seed:     "seed",
			expected: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:     "Non-empty seed",
			seed:     "seedseedseedseedseedseed",
			expected: "FA:DE:8A:06:BE:0E",
		},
		{
			name:     "Short deviceID is a seed",
			deviceID: "bridge",
			seed:     "other",
			expected: calcDeviceID("", "bridge"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, calcDeviceID(tt.deviceID, tt.seed))
		})
	}
}

func TestCalcDevicePrivate(t *testing.T) {
	key := hap.GenerateKey()
	require.Equal(t, key, calcDevicePrivate(hex.EncodeToString(key), "seed"))

	// same seed gives same key
	require.Equal(t, calcDevicePrivate("", "seed"), calcDevicePrivate("", "seed"))
	require.Equal(t, calcDevicePrivate("secret", "seed"), calcDevicePrivate("", "secret"))
	require.Len(t, calcDevicePrivate("", ""), 64)
}

func TestCalcName(t *testing.T) {
	require.Equal(t, "Bridge", calcName("Bridge", "seed"))
	require.Regexp(t, `^hapbridge-[0-9A-F]{4}$`, calcName("", "seed"))
}

func TestNewBridge(t *testing.T) {
	devices := hap.StaticConfiguration{
		{
			ID:   "light",
			Name: "Light",
			Channels: []hap.Channel{
				{
					ID:      "light",
					Service: "43",
					Properties: []hap.Property{
						{ID: "on", Type: "25", DataType: "bool", Perms: hap.EVPRPW},
					},
				},
			},
		},
	}

	cfg := &Config{Name: "FastyBird Bridge", Pin: "031-45-154", SetupID: "7OSX", DeviceID: "46:D2:5E:F2:FE:1A"}

	b, err := newBridge(cfg, devices, hap.NewMemoryState(), hap.NewMemoryPairings())
	require.Nil(t, err)
	require.Len(t, b.srv.Bridge.Accessories(), 2)

	var announces int
	b.onChange(func() { announces++ })
	require.Equal(t, 1, announces)

	entry := b.entry(51827)
	require.Equal(t, "FastyBird Bridge", entry.Name)
	require.Equal(t, uint16(51827), entry.Port)
	require.Equal(t, "1", entry.Info["sf"])
	require.Equal(t, "2", entry.Info["ci"])
	require.Equal(t, "H+H9yg==", entry.Info["sh"])
	require.Equal(t, "1", entry.Info["c#"])
	require.Equal(t, "46:D2:5E:F2:FE:1A", entry.Info["id"])

	// config reload bumps c# and announces new TXT
	require.Nil(t, b.srv.Reload(context.Background()))
	require.Equal(t, 2, announces)
	require.Equal(t, "2", b.entry(51827).Info["c#"])

	cfg.Pin = "123-45-678"
	_, err = newBridge(cfg, devices, hap.NewMemoryState(), hap.NewMemoryPairings())
	require.NotNil(t, err)
}
