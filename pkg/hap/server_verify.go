package hap

import (
	"errors"
	"net/http"

	"github.com/fastybird/hapbridge/pkg/hap/chacha20poly1305"
	"github.com/fastybird/hapbridge/pkg/hap/curve25519"
	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/hkdf"
	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
)

type pairVerify struct {
	clientPublic  []byte
	serverPublic  []byte
	sessionShared []byte
	sessionKey    []byte
}

// handlePairVerify runs pair-verify. On verified session it re-keys the
// connection after V4 response.
func (s *Session) handlePairVerify(body []byte) (*http.Response, afterFunc, error) {
	var req struct {
		State byte `tlv8:"6"`
	}
	if err := tlv8.Unmarshal(body, &req); err != nil {
		return s.malformed(err)
	}

	switch req.State {
	case StateM1:
		res, err := s.pairVerifyM1(body)
		return res, nil, err
	case StateM3:
		return s.pairVerifyM3(body)
	}

	s.verifyReset()
	res, err := tlvError(req.State+1, TLVErrorUnknown)
	return res, nil, err
}

func (s *Session) verifyError(state byte, code TLVError) (*http.Response, error) {
	s.server.Log.Debug().Msgf("[hap] %s: pair-verify M%d error: %s", s.conn.RemoteAddr(), state, code)
	s.verifyReset()
	return tlvError(state, code)
}

func (s *Session) verifyReset() {
	s.verify = nil
	if s.State() == SessionPairVerify {
		s.setState(SessionUnpaired)
	}
}

func (s *Session) pairVerifyM1(body []byte) (*http.Response, error) {
	srv := s.server

	var plainM1 struct {
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}
	if err := tlv8.Unmarshal(body, &plainM1); err != nil || len(plainM1.PublicKey) != 32 {
		return s.verifyError(StateM2, TLVErrorUnknown)
	}

	sessionPublic, sessionPrivate, err := curve25519.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	sessionShared, err := curve25519.SharedSecret(sessionPrivate, plainM1.PublicKey)
	if err != nil {
		return s.verifyError(StateM2, TLVErrorAuthentication)
	}

	sessionKey, err := hkdf.Sha512(sessionShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return nil, err
	}

	// our session + our ID + client session
	b := Append(sessionPublic, srv.DeviceID, plainM1.PublicKey)
	signature, err := ed25519.Signature(srv.DevicePrivate, b)
	if err != nil {
		return nil, err
	}

	plainM2 := struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: srv.DeviceID,
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(plainM2); err != nil {
		return nil, err
	}

	if b, err = chacha20poly1305.Encrypt(sessionKey, "PV-Msg02", b); err != nil {
		return nil, err
	}

	s.verify = &pairVerify{
		clientPublic:  plainM1.PublicKey,
		serverPublic:  sessionPublic,
		sessionShared: sessionShared,
		sessionKey:    sessionKey,
	}

	if s.State() != SessionVerified {
		s.setState(SessionPairVerify)
	}

	cipherM2 := struct {
		PublicKey     []byte `tlv8:"3"`
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		PublicKey:     sessionPublic,
		EncryptedData: b,
		State:         StateM2,
	}
	return makeResponse(http.StatusOK, MimeTLV8, cipherM2)
}

func (s *Session) pairVerifyM3(body []byte) (*http.Response, afterFunc, error) {
	verify := s.verify
	if verify == nil {
		res, err := s.verifyError(StateM4, TLVErrorUnknown)
		return res, nil, err
	}

	var cipherM3 struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}
	if err := tlv8.Unmarshal(body, &cipherM3); err != nil {
		res, err := s.verifyError(StateM4, TLVErrorAuthentication)
		return res, nil, err
	}

	b, err := chacha20poly1305.Decrypt(verify.sessionKey, "PV-Msg03", cipherM3.EncryptedData)
	if err != nil {
		res, err := s.verifyError(StateM4, TLVErrorAuthentication)
		return res, nil, err
	}

	var plainM3 struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM3); err != nil {
		res, err := s.verifyError(StateM4, TLVErrorAuthentication)
		return res, nil, err
	}

	srv := s.server

	srv.pairMu.Lock()
	pairing, err := srv.Pairings.Get(plainM3.Identifier)
	srv.pairMu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrPairingNotFound) {
			srv.Log.Warn().Err(err).Msgf("[hap] %s: get pairing %s", s.conn.RemoteAddr(), plainM3.Identifier)
		}
		res, err := s.verifyError(StateM4, TLVErrorAuthentication)
		return res, nil, err
	}

	// client session + client ID + our session
	b = Append(verify.clientPublic, plainM3.Identifier, verify.serverPublic)
	if !ed25519.ValidateSignature(pairing.PublicKey, b, plainM3.Signature) {
		res, err := s.verifyError(StateM4, TLVErrorAuthentication)
		return res, nil, err
	}

	s.verify = nil

	plainM4 := struct {
		State byte `tlv8:"6"`
	}{
		State: StateM4,
	}
	res, err := makeResponse(http.StatusOK, MimeTLV8, plainM4)

	// V4 goes with old keys (or plain), next frames with new keys
	return res, func() error {
		return s.switchSecure(pairing.ClientID, verify.sessionShared)
	}, err
}
