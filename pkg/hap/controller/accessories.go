package controller

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fastybird/hapbridge/pkg/hap"
)

func (c *Client) GetAccessories() ([]*hap.Accessory, error) {
	res, err := c.Get(hap.PathAccessories)
	if err != nil {
		return nil, err
	}

	var ac hap.JSONAccessories
	if err = json.NewDecoder(res.Body).Decode(&ac); err != nil {
		return nil, err
	}

	return ac.Value, nil
}

// GetCharacters with optional query flags: "meta=1&perms=1&type=1&ev=1"
func (c *Client) GetCharacters(ids []hap.CharID, flags string) ([]hap.JSONCharacter, error) {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, id.String())
	}

	path := hap.PathCharacteristics + "?id=" + strings.Join(items, ",")
	if flags != "" {
		path += "&" + flags
	}

	res, err := c.Get(path)
	if err != nil {
		return nil, err
	}

	return decodeCharacters(res)
}

func (c *Client) GetCharacter(id hap.CharID) (any, error) {
	chars, err := c.GetCharacters([]hap.CharID{id}, "")
	if err != nil {
		return nil, err
	}
	if len(chars) != 1 {
		return nil, fmt.Errorf("controller: wrong characteristics count: %d", len(chars))
	}
	if status := chars[0].Status; status != nil && *status != hap.StatusSuccess {
		return nil, *status
	}
	return chars[0].Value, nil
}

// PutCharacters writes values and subscriptions. Returns per item statuses
// on 207 Multi-Status, nil on 204.
func (c *Client) PutCharacters(chars ...hap.JSONCharacter) ([]hap.JSONCharacter, error) {
	type item struct {
		AID   uint64 `json:"aid"`
		IID   uint64 `json:"iid"`
		Value any    `json:"value,omitempty"`
		Event *bool  `json:"ev,omitempty"`
	}

	items := make([]item, 0, len(chars))
	for _, char := range chars {
		items = append(items, item{AID: char.AID, IID: char.IID, Value: char.Value, Event: char.Event})
	}

	data, err := json.Marshal(map[string]any{"characteristics": items})
	if err != nil {
		return nil, err
	}

	res, err := c.Put(hap.PathCharacteristics, hap.MimeJSON, data)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	return decodeCharacters(res)
}

// Subscribe to events of characteristics
func (c *Client) Subscribe(enable bool, ids ...hap.CharID) ([]hap.JSONCharacter, error) {
	chars := make([]hap.JSONCharacter, 0, len(ids))
	for _, id := range ids {
		chars = append(chars, hap.JSONCharacter{AID: id.AID, IID: id.IID, Event: &enable})
	}
	return c.PutCharacters(chars...)
}

func decodeCharacters(res *http.Response) ([]hap.JSONCharacter, error) {
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var ch hap.JSONCharacters
	if err = json.Unmarshal(data, &ch); err != nil {
		return nil, err
	}
	return ch.Value, nil
}
