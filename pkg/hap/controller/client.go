// Package controller is the controller side of HAP: pair-setup, pair-verify
// and encrypted requests to an accessory. It's used in tests and for pairing
// management from the command line.
package controller

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/secure"
)

const (
	ConnDialTimeout = time.Second * 3
	ConnDeadline    = time.Second * 3
)

var ErrNotConnected = errors.New("controller: not connected")

// Client for HomeKit accessory. DevicePublic can be nil before pairing.
type Client struct {
	DeviceAddress string // including port
	DeviceID      string // aka. Accessory
	DevicePublic  []byte
	ClientID      string // aka. Controller
	ClientPrivate []byte

	conn   net.Conn
	secure *secure.Conn
	reader *bufio.Reader
	shared []byte // key of the last pair-verify

	events []Event
}

// NewClient from homekit://host:port?device_id=...&device_public=...&client_id=...&client_private=...
func NewClient(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	query := u.Query()
	c := &Client{
		DeviceAddress: u.Host,
		DeviceID:      query.Get("device_id"),
		DevicePublic:  DecodeKey(query.Get("device_public")),
		ClientID:      query.Get("client_id"),
		ClientPrivate: DecodeKey(query.Get("client_private")),
	}

	if c.ClientID == "" {
		c.ClientID = hap.GenerateUUID()
	}
	if c.ClientPrivate == nil {
		c.ClientPrivate = hap.GenerateKey()
	}

	return c, nil
}

func (c *Client) ClientPublic() []byte {
	return ed25519.PublicKey(c.ClientPrivate)
}

func (c *Client) URL() string {
	return fmt.Sprintf(
		"homekit://%s?device_id=%s&device_public=%x&client_id=%s&client_private=%x",
		c.DeviceAddress, c.DeviceID, c.DevicePublic, c.ClientID, c.ClientPrivate,
	)
}

func (c *Client) dial() (err error) {
	if c.conn, err = net.DialTimeout("tcp", c.DeviceAddress, ConnDialTimeout); err != nil {
		return
	}
	c.secure = nil
	c.reader = bufio.NewReader(c.conn)
	return
}

// Dial connects to accessory and runs pair-verify
func (c *Client) Dial() error {
	if err := c.dial(); err != nil {
		return err
	}

	if err := c.Verify(); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Verified returns true if connection is encrypted
func (c *Client) Verified() bool {
	return c.secure != nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.secure = nil
	c.shared = nil
	return conn.Close()
}

func (c *Client) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// switchSecure wraps connection after first verify or replaces keys after next one
func (c *Client) switchSecure(shared []byte) error {
	c.shared = shared

	if c.secure != nil {
		c.secure.Lock()
		defer c.secure.Unlock()
		return c.secure.Rekey(shared, true)
	}

	sc, err := secure.Client(c.conn, shared)
	if err != nil {
		return err
	}

	c.secure = sc
	// new reader for new conn
	c.reader = bufio.NewReaderSize(sc, 32*1024) // 32K like default request body
	return nil
}

// StatusError is non-2xx response from accessory
type StatusError struct {
	StatusCode int
	Status     hap.Status
}

func (e *StatusError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("controller: wrong http status: %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("controller: wrong http status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func DecodeKey(s string) []byte {
	if s == "" {
		return nil
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
