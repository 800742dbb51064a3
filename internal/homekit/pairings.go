package homekit

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
)

// configPairings keeps pairings in the config file as a list of
// "client_id=...&client_public=...&permissions=1" strings
type configPairings struct {
	pairings *hap.MemoryPairings
	save     func([]string) error
	mu       sync.Mutex
}

func newConfigPairings(items []string, save func([]string) error) (*configPairings, error) {
	var pairings []*hap.Pairing
	for _, item := range items {
		pairing, err := decodePairing(item)
		if err != nil {
			log.Warn().Err(err).Msgf("[homekit] skip pairing %s", item)
			continue
		}
		pairings = append(pairings, pairing)
	}

	return &configPairings{pairings: hap.NewMemoryPairings(pairings...), save: save}, nil
}

func (c *configPairings) Get(clientID string) (*hap.Pairing, error) {
	return c.pairings.Get(clientID)
}

func (c *configPairings) Put(pairing *hap.Pairing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pairings.Put(pairing); err != nil {
		return err
	}
	return c.flush()
}

func (c *configPairings) Delete(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.pairings.Delete(clientID); err != nil {
		return err
	}
	return c.flush()
}

func (c *configPairings) List() ([]*hap.Pairing, error) {
	return c.pairings.List()
}

func (c *configPairings) flush() error {
	pairings, _ := c.pairings.List()

	items := make([]string, 0, len(pairings))
	for _, pairing := range pairings {
		items = append(items, encodePairing(pairing))
	}

	if err := c.save(items); err != nil {
		log.Error().Err(err).Msgf("[homekit] can't save pairings=%v", items)
		return err
	}
	return nil
}

func encodePairing(pairing *hap.Pairing) string {
	query := url.Values{
		"client_id":     []string{pairing.ClientID},
		"client_public": []string{hex.EncodeToString(pairing.PublicKey)},
		"permissions":   []string{strconv.Itoa(int(pairing.Permissions))},
	}
	if !pairing.PairedAt.IsZero() {
		query.Set("paired_at", strconv.FormatInt(pairing.PairedAt.Unix(), 10))
	}
	return query.Encode()
}

func decodePairing(s string) (*hap.Pairing, error) {
	query, err := url.ParseQuery(s)
	if err != nil {
		return nil, err
	}

	public, err := hex.DecodeString(query.Get("client_public"))
	if err != nil {
		return nil, err
	}

	pairing := &hap.Pairing{
		ClientID:  query.Get("client_id"),
		PublicKey: public,
	}

	if pairing.ClientID == "" || len(public) != 32 {
		return nil, hap.ErrPairingNotFound
	}

	// old records without permissions are admins
	if s := query.Get("permissions"); s != "" {
		perm, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return nil, err
		}
		pairing.Permissions = byte(perm)
	} else {
		pairing.Permissions = hap.PermissionAdmin
	}

	if s := query.Get("paired_at"); s != "" {
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			pairing.PairedAt = time.Unix(ts, 0)
		}
	}

	return pairing, nil
}
