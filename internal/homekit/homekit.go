package homekit

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/fastybird/hapbridge/internal/app"
	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/fastybird/hapbridge/pkg/mdns"
	"github.com/fastybird/hapbridge/pkg/mqtt"
	"github.com/fastybird/hapbridge/pkg/sqlite"
	"github.com/rs/zerolog"
)

type Config struct {
	Name          string   `yaml:"name"`
	Pin           string   `yaml:"pin"`
	Port          uint16   `yaml:"port"`
	DeviceID      string   `yaml:"device_id"`
	DevicePrivate string   `yaml:"device_private"`
	SetupID       string   `yaml:"setup_id"`
	Manufacturer  string   `yaml:"manufacturer"`
	Model         string   `yaml:"model"`
	Storage       string   `yaml:"storage"` // config or sqlite
	Database      string   `yaml:"database"`
	Pairings      []string `yaml:"pairings"`
	EventQueue    int      `yaml:"event_queue"`
}

func Init() {
	var cfg struct {
		Mod     Config       `yaml:"homekit"`
		MQTT    mqtt.Config  `yaml:"mqtt"`
		Devices []hap.Device `yaml:"devices"`
	}

	cfg.Mod = Config{
		Name:     "FastyBird Bridge",
		Pin:      "031-45-154",
		Port:     51827,
		SetupID:  "FB01",
		Storage:  "config",
		Database: "hap.db",
	}
	cfg.MQTT = mqtt.Config{ClientID: "hapbridge", Topic: "fastybird"}

	app.LoadConfig(&cfg)

	log = app.GetLogger("homekit")

	var state hap.StateStore
	var store *mqtt.Store

	if cfg.MQTT.Broker != "" {
		var err error
		if store, err = mqtt.Connect(cfg.MQTT, app.GetLogger("mqtt")); err != nil {
			log.Error().Err(err).Msg("[homekit] mqtt")
			return
		}
		state = store
	} else {
		state = hap.NewMemoryState()
	}

	if cfg.Mod.DevicePrivate == "" {
		cfg.Mod.DevicePrivate = hex.EncodeToString(hap.GenerateKey())
		if err := app.PatchConfig(cfg.Mod.DevicePrivate, "homekit", "device_private"); err != nil {
			log.Warn().Err(err).Msg("[homekit] can't save device_private, pairings will be lost on restart")
		}
	}

	pairings, err := openPairings(&cfg.Mod)
	if err != nil {
		log.Error().Err(err).Msg("[homekit] pairings")
		return
	}

	b, err := newBridge(&cfg.Mod, hap.StaticConfiguration(cfg.Devices), state, pairings)
	if err != nil {
		log.Error().Err(err).Msg("[homekit] init")
		return
	}

	if store != nil {
		store.OnUpdate(b.srv.Notify)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Mod.Port))
	if err != nil {
		log.Error().Err(err).Msg("[homekit] listen")
		return
	}

	log.Info().Str("addr", ln.Addr().String()).Str("setup", b.srv.SetupURI()).Msg("[homekit] listen")

	go func() {
		if err := b.srv.Serve(ln); err != nil {
			log.Error().Err(err).Msg("[homekit] serve")
		}
	}()

	go func() {
		if err := b.advertise(context.Background(), cfg.Mod.Port); err != nil {
			log.Error().Err(err).Msg("[homekit] mdns")
		}
	}()
}

var log = zerolog.Nop()

func openPairings(cfg *Config) (hap.PairingStore, error) {
	switch cfg.Storage {
	case "", "config":
		return newConfigPairings(cfg.Pairings, func(pairings []string) error {
			return app.PatchConfig(pairings, "homekit", "pairings")
		})
	case "sqlite":
		store, err := sqlite.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("homekit: unknown storage: %s", cfg.Storage)
}

// advertise serves mDNS until context done, TXT follows server changes
func (b *bridge) advertise(ctx context.Context, port uint16) error {
	browser := &mdns.Browser{Service: mdns.ServiceHAP}
	if err := browser.ListenMulticastUDP(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = browser.Close()
	}()

	b.onChange(func() {
		browser.Update([]*mdns.ServiceEntry{b.entry(port)})
	})

	return browser.Serve()
}
