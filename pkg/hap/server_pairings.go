package hap

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
)

// handlePairings is add, remove and list pairings from admin controller
func (s *Session) handlePairings(body []byte) (*http.Response, afterFunc, error) {
	var req struct {
		Method      byte   `tlv8:"0"`
		Identifier  string `tlv8:"1"`
		PublicKey   []byte `tlv8:"3"`
		State       byte   `tlv8:"6"`
		Permissions byte   `tlv8:"11"`
	}
	if err := tlv8.Unmarshal(body, &req); err != nil {
		return s.malformed(err)
	}

	if req.State != StateM1 {
		res, err := tlvError(StateM2, TLVErrorUnknown)
		return res, nil, err
	}

	srv := s.server
	srv.pairMu.Lock()
	defer srv.pairMu.Unlock()

	admin, err := srv.Pairings.Get(s.ClientID())
	if err != nil || !admin.IsAdmin() {
		srv.Log.Debug().Msgf("[hap] %s: pairings method=%d from non admin", s.conn.RemoteAddr(), req.Method)
		res, err := tlvError(StateM2, TLVErrorAuthentication)
		return res, nil, err
	}

	switch req.Method {
	case MethodAddPairing:
		code, err := s.addPairing(req.Identifier, req.PublicKey, req.Permissions)
		if err != nil {
			return nil, nil, err
		}
		var res *http.Response
		if code != 0 {
			res, err = tlvError(StateM2, code)
		} else {
			res, err = tlvResponse(StateM2)
		}
		return res, nil, err

	case MethodDeletePairing:
		removed, err := s.removePairing(req.Identifier)
		if err != nil {
			return nil, nil, err
		}
		res, err := tlvResponse(StateM2)
		return res, s.afterRemove(removed), err

	case MethodListPairings:
		pairings, err := srv.Pairings.List()
		if err != nil {
			return nil, nil, err
		}

		SortPairings(pairings)

		groups := make([][]tlv8.Item, 0, len(pairings))
		for i, pairing := range pairings {
			var group []tlv8.Item
			if i == 0 {
				group = append(group, tlv8.Item{Type: TypeState, Value: []byte{StateM2}})
			}
			group = append(group,
				tlv8.Item{Type: TypeIdentifier, Value: []byte(pairing.ClientID)},
				tlv8.Item{Type: TypePublicKey, Value: pairing.PublicKey},
				tlv8.Item{Type: TypePermissions, Value: []byte{pairing.Permissions}},
			)
			groups = append(groups, group)
		}

		if len(groups) == 0 {
			groups = append(groups, []tlv8.Item{{Type: TypeState, Value: []byte{StateM2}}})
		}

		res, err := makeResponse(http.StatusOK, MimeTLV8, tlv8.EncodeGroups(groups...))
		return res, nil, err
	}

	res, err := tlvError(StateM2, TLVErrorUnknown)
	return res, nil, err
}

// addPairing must be called with pairMu held
func (s *Session) addPairing(id string, public []byte, permissions byte) (TLVError, error) {
	srv := s.server

	if id == "" || len(public) != ed25519.PublicKeySize {
		return TLVErrorUnknown, nil
	}

	pairing, err := srv.Pairings.Get(id)
	switch {
	case err == nil:
		// same controller can only change permissions
		if !bytes.Equal(pairing.PublicKey, public) {
			return TLVErrorUnknown, nil
		}
		updated := *pairing
		updated.Permissions = permissions
		pairing = &updated

	case errors.Is(err, ErrPairingNotFound):
		pairings, err := srv.Pairings.List()
		if err != nil {
			return 0, err
		}
		if len(pairings) >= srv.maxPairings() {
			return TLVErrorMaxPeers, nil
		}
		pairing = &Pairing{
			ClientID:    id,
			PublicKey:   public,
			Permissions: permissions,
			PairedAt:    time.Now(),
		}

	default:
		return 0, err
	}

	if err = srv.Pairings.Put(pairing); err != nil {
		return 0, err
	}

	srv.Log.Info().Msgf("[hap] %s: add pairing client=%s perm=%d", s.conn.RemoteAddr(), id, permissions)
	return 0, nil
}

// removePairing must be called with pairMu held. Removing of the last admin
// removes all pairings.
func (s *Session) removePairing(id string) ([]string, error) {
	srv := s.server

	if err := srv.Pairings.Delete(id); err != nil {
		if !errors.Is(err, ErrPairingNotFound) {
			return nil, err
		}
		// already removed, nothing to do
		return nil, nil
	}

	removed := []string{id}

	pairings, err := srv.Pairings.List()
	if err != nil {
		return nil, err
	}

	hasAdmin := false
	for _, pairing := range pairings {
		if pairing.IsAdmin() {
			hasAdmin = true
			break
		}
	}

	if !hasAdmin {
		for _, pairing := range pairings {
			if err = srv.Pairings.Delete(pairing.ClientID); err != nil {
				return nil, err
			}
			removed = append(removed, pairing.ClientID)
		}
	}

	srv.Log.Info().Msgf("[hap] %s: remove pairings %v", s.conn.RemoteAddr(), removed)
	return removed, nil
}

// afterRemove closes sessions of removed controllers when response is sent
func (s *Session) afterRemove(removed []string) afterFunc {
	if len(removed) == 0 {
		return nil
	}

	return func() error {
		srv := s.server
		go srv.changed()

		self := s.ClientID()
		for _, id := range removed {
			if id != self {
				srv.closeClient(id)
			}
		}

		for _, id := range removed {
			if id == self {
				return errCloseSession
			}
		}
		return nil
	}
}
