package hap

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

func (s *Session) handleAccessories() (*http.Response, error) {
	body, err := s.server.Bridge.MarshalAccessories()
	if err != nil {
		return nil, err
	}
	return makeResponse(http.StatusOK, MimeJSON, body)
}

// handleGetCharacteristics serves GET /characteristics?id=1.8,2.9&meta=1&perms=1&type=1&ev=1
func (s *Session) handleGetCharacteristics(req *http.Request) (*http.Response, error) {
	query := req.URL.Query()

	ids, ok := parseIDs(query.Get("id"))
	if !ok {
		return makeResponse(http.StatusBadRequest, MimeJSON, JSONStatus{Status: StatusInvalidValue})
	}

	meta := query.Get("meta") == "1"
	perms := query.Get("perms") == "1"
	typ := query.Get("type") == "1"
	ev := query.Get("ev") == "1"

	ctx, cancel := context.WithTimeout(s.ctx, s.server.requestTimeout())
	defer cancel()

	bridge := s.server.Bridge

	var chars []JSONCharacter
	var failed bool

	for _, id := range ids {
		item := JSONCharacter{AID: id.AID, IID: id.IID}

		value, err := bridge.ReadCharacteristic(ctx, id)
		if err != nil {
			status := StatusOf(err)
			item.Status = &status
			failed = true
			chars = append(chars, item)
			continue
		}

		item.Value = value

		if meta || perms || typ || ev {
			char, _ := bridge.Character(id)
			if meta {
				item.Format = char.Format
				item.Unit = char.Unit
				item.MinValue = char.MinValue
				item.MaxValue = char.MaxValue
				item.MinStep = char.MinStep
				item.MaxLen = char.MaxLen
				item.ValidValues = char.ValidValues
			}
			if perms {
				item.Perms = char.Perms
			}
			if typ {
				item.Type = char.Type
			}
			if ev {
				subscribed := s.Subscribed(id)
				item.Event = &subscribed
			}
		}

		chars = append(chars, item)
	}

	if !failed {
		return makeResponse(http.StatusOK, MimeJSON, JSONCharacters{Value: chars})
	}

	// multi-status has status for every item
	for i := range chars {
		if chars[i].Status == nil {
			status := StatusSuccess
			chars[i].Status = &status
		}
	}
	return makeResponse(http.StatusMultiStatus, MimeJSON, JSONCharacters{Value: chars})
}

func (s *Session) handlePutCharacteristics(body []byte) (*http.Response, error) {
	var req struct {
		Value []struct {
			AID   uint64          `json:"aid"`
			IID   uint64          `json:"iid"`
			Value json.RawMessage `json:"value"`
			Event *bool           `json:"ev"`
		} `json:"characteristics"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Value) == 0 {
		return makeResponse(http.StatusBadRequest, MimeJSON, JSONStatus{Status: StatusInvalidValue})
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.server.requestTimeout())
	defer cancel()

	srv := s.server

	var chars []JSONCharacter
	var failed bool

	for _, item := range req.Value {
		id := CharID{AID: item.AID, IID: item.IID}
		status := s.putCharacteristic(ctx, id, item.Value, item.Event)
		if status != StatusSuccess {
			failed = true
		}
		chars = append(chars, JSONCharacter{AID: id.AID, IID: id.IID, Status: &status})
	}

	if !failed {
		return makeResponse(http.StatusNoContent, MimeJSON, nil)
	}

	srv.Log.Debug().Msgf("[hap] %s: put characteristics with errors", s.conn.RemoteAddr())
	return makeResponse(http.StatusMultiStatus, MimeJSON, JSONCharacters{Value: chars})
}

func (s *Session) putCharacteristic(ctx context.Context, id CharID, raw json.RawMessage, event *bool) Status {
	bridge := s.server.Bridge

	char, ok := bridge.Character(id)
	if !ok {
		return StatusResourceDoesNotExist
	}

	if event != nil {
		if !char.Notifies() {
			return StatusNotificationNotSupported
		}
		s.Subscribe(id, *event)
		s.server.Log.Trace().Msgf("[hap] %s: subscribe %s ev=%t", s.conn.RemoteAddr(), id, *event)
	}

	if raw == nil {
		return StatusSuccess
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return StatusInvalidValue
	}

	v, err := bridge.WriteCharacteristic(ctx, id, value)
	if err != nil {
		return StatusOf(err)
	}

	// writer is not notified about own change
	if char.Notifies() && char.Readable() {
		s.server.publish(id, v, s)
	}

	return StatusSuccess
}

// handleIdentify is allowed only for unpaired accessory
func (s *Session) handleIdentify() (*http.Response, error) {
	if s.server.Paired() {
		return makeResponse(http.StatusBadRequest, MimeJSON, JSONStatus{Status: StatusInsufficientPrivileges})
	}

	s.server.Log.Info().Msgf("[hap] %s: identify", s.conn.RemoteAddr())
	return makeResponse(http.StatusNoContent, MimeJSON, nil)
}

func parseIDs(s string) ([]CharID, bool) {
	if s == "" {
		return nil, false
	}

	var ids []CharID
	for _, item := range strings.Split(s, ",") {
		s1, s2, ok := strings.Cut(item, ".")
		if !ok {
			return nil, false
		}

		aid, err := strconv.ParseUint(s1, 10, 64)
		if err != nil {
			return nil, false
		}

		iid, err := strconv.ParseUint(s2, 10, 64)
		if err != nil {
			return nil, false
		}

		ids = append(ids, CharID{AID: aid, IID: iid})
	}
	return ids, true
}
