package homekit

import (
	"context"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/fastybird/hapbridge/pkg/hap/setup"
	"github.com/fastybird/hapbridge/pkg/mdns"
)

// bridge is HAP server with its advertisement
type bridge struct {
	srv *hap.Server

	announce func()
	mu       sync.Mutex
}

func newBridge(cfg *Config, devices hap.Configuration, state hap.StateStore, pairings hap.PairingStore) (*bridge, error) {
	if !setup.ValidPin(cfg.Pin) {
		return nil, fmt.Errorf("homekit: wrong pin: %s", cfg.Pin)
	}

	name := calcName(cfg.Name, cfg.DeviceID)
	model := cfg.Model
	if model == "" {
		model = name
	}

	info := hap.BridgeInfo{
		Name:         name,
		Manufacturer: cfg.Manufacturer,
		Model:        model,
	}

	b := &bridge{}

	bridgeTree := hap.NewBridge(info, devices, state)
	bridgeTree.Log = log

	b.srv = &hap.Server{
		DeviceID:       calcDeviceID(cfg.DeviceID, name),
		DevicePrivate:  calcDevicePrivate(cfg.DevicePrivate, name),
		Pin:            cfg.Pin,
		SetupID:        cfg.SetupID,
		Model:          model,
		Category:       hap.CategoryBridge,
		Bridge:         bridgeTree,
		Pairings:       pairings,
		Log:            log,
		EventQueueSize: cfg.EventQueue,
		OnChange:       b.changed,
	}

	if err := b.srv.Bridge.Rebuild(context.Background()); err != nil {
		return nil, err
	}

	return b, nil
}

// entry for mDNS with current TXT records
func (b *bridge) entry(port uint16) *mdns.ServiceEntry {
	return &mdns.ServiceEntry{
		Name: b.srv.Bridge.Info.Name,
		Port: port,
		Info: b.srv.TXT(),
	}
}

func (b *bridge) onChange(announce func()) {
	b.mu.Lock()
	b.announce = announce
	b.mu.Unlock()

	announce()
}

// changed is called on pairing and configuration changes
func (b *bridge) changed() {
	b.mu.Lock()
	announce := b.announce
	b.mu.Unlock()

	// true status flag is important, or device may be offline in Apple Home
	log.Debug().Msgf("[homekit] status changed: paired=%t c#=%d", b.srv.Paired(), b.srv.ConfigNumber())

	if announce != nil {
		announce()
	}
}

func calcName(name, seed string) string {
	if name != "" {
		return name
	}
	b := sha512.Sum512([]byte(seed))
	return fmt.Sprintf("hapbridge-%02X%02X", b[0], b[2])
}

func calcDeviceID(deviceID, seed string) string {
	if deviceID != "" {
		if len(deviceID) >= 17 {
			// already in AA:BB:CC:DD:EE:FF form
			return deviceID
		}
		seed = deviceID
	}
	b := sha512.Sum512([]byte(seed))
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[32], b[34], b[36], b[38], b[40], b[42])
}

// calcDevicePrivate decodes hex key or uses the value as seed
func calcDevicePrivate(private, seed string) []byte {
	if private != "" {
		if b, _ := hex.DecodeString(private); len(b) == ed25519.PrivateKeySize {
			return b
		}
		seed = private
	}
	b := sha512.Sum512([]byte(seed))
	return ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
}
