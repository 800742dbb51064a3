package hap

import (
	"errors"
	"net/http"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap/chacha20poly1305"
	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/hkdf"
	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
	"github.com/tadglines/go-pkgs/crypto/srp"
)

type pairSetup struct {
	srp    *srp.ServerSession
	shared []byte // SRP session key after M3
	state  byte   // last sent state
}

// handlePairSetup runs one step of pair-setup. Steps are executed under
// bridge wide pairing lock, which is not held between requests.
func (s *Session) handlePairSetup(body []byte) (*http.Response, afterFunc, error) {
	var req struct {
		Method byte   `tlv8:"0"`
		State  byte   `tlv8:"6"`
		Flags  uint32 `tlv8:"19"`
	}
	if err := tlv8.Unmarshal(body, &req); err != nil {
		return s.malformed(err)
	}

	srv := s.server
	srv.pairMu.Lock()
	defer srv.pairMu.Unlock()

	var res *http.Response
	var err error

	switch req.State {
	case StateM1:
		res, err = s.pairSetupM1(req.Method)
	case StateM3:
		res, err = s.pairSetupM3(body)
	case StateM5:
		res, err = s.pairSetupM5(body)
	default:
		s.server.Log.Debug().Msgf("[hap] %s: pair-setup wrong state=%d", s.conn.RemoteAddr(), req.State)
		s.resetSetup()
		res, err = tlvError(req.State+1, TLVErrorUnknown)
	}

	return res, nil, err
}

// setupError responds with error and resets pair-setup of the session
func (s *Session) setupError(state byte, code TLVError) (*http.Response, error) {
	s.server.Log.Debug().Msgf("[hap] %s: pair-setup M%d error: %s", s.conn.RemoteAddr(), state, code)
	s.resetSetup()
	return tlvError(state, code)
}

// resetSetup must be called with pairMu held
func (s *Session) resetSetup() {
	s.setup = nil
	if s.server.setupOwner == s {
		s.server.setupOwner = nil
	}
	if s.State() == SessionPairSetup {
		s.setState(SessionUnpaired)
	}
}

func (s *Session) pairSetupM1(method byte) (*http.Response, error) {
	srv := s.server

	if method != MethodPair && method != MethodPairMFi {
		return s.setupError(StateM2, TLVErrorUnknown)
	}

	// additional controllers are added by admin with pairings request
	pairings, err := srv.Pairings.List()
	if err != nil {
		return nil, err
	}
	if len(pairings) > 0 {
		return s.setupError(StateM2, TLVErrorUnavailable)
	}

	if srv.authFailures >= srv.maxAuthAttempts() {
		return s.setupError(StateM2, TLVErrorMaxTries)
	}

	if owner := srv.setupOwner; owner != nil && owner != s {
		if time.Since(srv.setupStarted) < srv.setupTimeout() {
			// don't reset our own state, other session owns pair-setup
			srv.Log.Debug().Msgf("[hap] %s: pair-setup busy", s.conn.RemoteAddr())
			return tlvError(StateM2, TLVErrorBusy)
		}

		srv.Log.Debug().Msgf("[hap] %s: pair-setup timeout, displace %s", s.conn.RemoteAddr(), owner.RemoteAddr())
		owner.setup = nil
		if owner.State() == SessionPairSetup {
			owner.setState(SessionUnpaired)
		}
	}

	pake, err := NewSRP()
	if err != nil {
		return nil, err
	}

	salt, verifier, err := pake.ComputeVerifier([]byte(srv.Pin))
	if err != nil {
		return nil, err
	}

	session := pake.NewServerSession([]byte(SetupUsername), salt, verifier)

	srv.setupOwner = s
	srv.setupStarted = time.Now()

	s.setup = &pairSetup{srp: session, state: StateM2}
	s.setState(SessionPairSetup)

	plainM2 := struct {
		Salt      []byte `tlv8:"2"`
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}{
		Salt:      salt,
		PublicKey: session.GetB(),
		State:     StateM2,
	}
	return makeResponse(http.StatusOK, MimeTLV8, plainM2)
}

// owns returns true if session still owns not expired pair-setup
func (s *Session) owns(state byte) bool {
	srv := s.server
	return s.setup != nil && s.setup.state == state && srv.setupOwner == s &&
		time.Since(srv.setupStarted) < srv.setupTimeout()
}

func (s *Session) pairSetupM3(body []byte) (*http.Response, error) {
	if !s.owns(StateM2) {
		return s.setupError(StateM4, TLVErrorUnknown)
	}

	var plainM3 struct {
		PublicKey []byte `tlv8:"3"`
		Proof     []byte `tlv8:"4"`
		State     byte   `tlv8:"6"`
	}
	if err := tlv8.Unmarshal(body, &plainM3); err != nil {
		return s.setupError(StateM4, TLVErrorUnknown)
	}

	// important to compute key before verify client
	shared, err := s.setup.srp.ComputeKey(plainM3.PublicKey)
	if err != nil {
		return s.setupError(StateM4, TLVErrorAuthentication)
	}

	if !s.setup.srp.VerifyClientAuthenticator(plainM3.Proof) {
		s.server.authFailures++
		return s.setupError(StateM4, TLVErrorAuthentication)
	}

	proof := s.setup.srp.ComputeAuthenticator(plainM3.Proof) // server proof

	s.setup.shared = shared
	s.setup.state = StateM4

	plainM4 := struct {
		Proof []byte `tlv8:"4"`
		State byte   `tlv8:"6"`
	}{
		Proof: proof,
		State: StateM4,
	}
	return makeResponse(http.StatusOK, MimeTLV8, plainM4)
}

func (s *Session) pairSetupM5(body []byte) (*http.Response, error) {
	if !s.owns(StateM4) {
		return s.setupError(StateM6, TLVErrorUnknown)
	}

	srv := s.server
	shared := s.setup.shared

	var cipherM5 struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}
	if err := tlv8.Unmarshal(body, &cipherM5); err != nil {
		return s.setupError(StateM6, TLVErrorUnknown)
	}

	// decrypt message using session shared
	encryptKey, err := hkdf.Sha512(shared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		return nil, err
	}

	b, err := chacha20poly1305.Decrypt(encryptKey, "PS-Msg05", cipherM5.EncryptedData)
	if err != nil {
		return s.setupError(StateM6, TLVErrorAuthentication)
	}

	// unpack message from TLV8
	var plainM5 struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM5); err != nil {
		return s.setupError(StateM6, TLVErrorAuthentication)
	}

	// verify client ID and Public
	remoteSign, err := hkdf.Sha512(
		shared, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info",
	)
	if err != nil {
		return nil, err
	}

	b = Append(remoteSign, plainM5.Identifier, plainM5.PublicKey)
	if !ed25519.ValidateSignature(plainM5.PublicKey, b, plainM5.Signature) {
		return s.setupError(StateM6, TLVErrorAuthentication)
	}

	// generate signature to our ID and Public
	localSign, err := hkdf.Sha512(
		shared, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info",
	)
	if err != nil {
		return nil, err
	}

	b = Append(localSign, srv.DeviceID, srv.ServerPublic())
	signature, err := ed25519.Signature(srv.DevicePrivate, b)
	if err != nil {
		return nil, err
	}

	plainM6 := struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: srv.DeviceID,
		PublicKey:  srv.ServerPublic(),
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(plainM6); err != nil {
		return nil, err
	}

	if b, err = chacha20poly1305.Encrypt(encryptKey, "PS-Msg06", b); err != nil {
		return nil, err
	}

	pairing := &Pairing{
		ClientID:    plainM5.Identifier,
		PublicKey:   plainM5.PublicKey,
		Permissions: PermissionAdmin,
		PairedAt:    time.Now(),
	}
	if err = srv.Pairings.Put(pairing); err != nil {
		srv.Log.Error().Err(err).Msgf("[hap] %s: save pairing %s", s.conn.RemoteAddr(), pairing.ClientID)
		return s.setupError(StateM6, TLVErrorUnknown)
	}

	srv.Log.Info().Msgf("[hap] %s: paired client=%s", s.conn.RemoteAddr(), pairing.ClientID)

	srv.authFailures = 0
	s.resetSetup()

	// status flag changed, callback doesn't need pairing lock
	go srv.changed()

	cipherM6 := struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         StateM6,
	}
	return makeResponse(http.StatusOK, MimeTLV8, cipherM6)
}

// malformed TLV body is fatal for connection
func (s *Session) malformed(err error) (*http.Response, afterFunc, error) {
	s.server.Log.Debug().Err(err).Msgf("[hap] %s: malformed request", s.conn.RemoteAddr())

	if !errors.Is(err, tlv8.ErrMalformed) {
		// valid TLV, but wrong item values
		res, err := tlvError(StateM2, TLVErrorUnknown)
		return res, nil, err
	}

	res, err := makeResponse(http.StatusBadRequest, MimeJSON, JSONStatus{Status: StatusInvalidValue})
	return res, func() error { return errCloseSession }, err
}
