package controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/fastybird/hapbridge/pkg/hap/chacha20poly1305"
	"github.com/fastybird/hapbridge/pkg/hap/curve25519"
	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/fastybird/hapbridge/pkg/hap/hkdf"
	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
)

// Pair runs pair-setup M1-M6 with PIN code. Connection stays open and plain.
func (c *Client) Pair(pin string) (err error) {
	pin = strings.ReplaceAll(pin, "-", "")
	if len(pin) != 8 {
		return fmt.Errorf("controller: wrong PIN format: %s", pin)
	}

	pin = pin[:3] + "-" + pin[3:5] + "-" + pin[5:] // 123-45-678

	if c.conn == nil {
		if err = c.dial(); err != nil {
			return
		}
	}

	// STEP M1. Send HELLO
	plainM1 := struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}{
		Method: hap.MethodPair,
		State:  hap.StateM1,
	}
	res, err := c.postTLV(hap.PathPairSetup, plainM1)
	if err != nil {
		return
	}

	// STEP M2. Read Device Salt and session PublicKey
	var plainM2 struct {
		Salt       []byte `tlv8:"2"`
		SessionKey []byte `tlv8:"3"` // server public key, aka session.B
		State      byte   `tlv8:"6"`
		Error      byte   `tlv8:"7"`
	}
	if err = unmarshalBody(res, &plainM2); err != nil {
		return
	}
	if plainM2.Error != 0 {
		return hap.TLVError(plainM2.Error)
	}
	if plainM2.State != hap.StateM2 {
		return hap.NewResponseError(plainM1, plainM2)
	}

	// STEP M3. Generate SRP Session using pin
	pake, err := hap.NewSRP()
	if err != nil {
		return
	}

	// username: "Pair-Setup", password: PIN (with dashes)
	session := pake.NewClientSession([]byte(hap.SetupUsername), []byte(pin))
	sessionShared, err := session.ComputeKey(plainM2.Salt, plainM2.SessionKey)
	if err != nil {
		return
	}

	plainM3 := struct {
		SessionKey []byte `tlv8:"3"`
		Proof      []byte `tlv8:"4"`
		State      byte   `tlv8:"6"`
	}{
		SessionKey: session.GetA(), // client public key, aka session.A
		Proof:      session.ComputeAuthenticator(),
		State:      hap.StateM3,
	}
	if res, err = c.postTLV(hap.PathPairSetup, plainM3); err != nil {
		return
	}

	// STEP M4. Read response
	var plainM4 struct {
		Proof []byte `tlv8:"4"` // server proof
		State byte   `tlv8:"6"`
		Error byte   `tlv8:"7"`
	}
	if err = unmarshalBody(res, &plainM4); err != nil {
		return
	}
	if plainM4.Error != 0 {
		return hap.TLVError(plainM4.Error)
	}
	if plainM4.State != hap.StateM4 {
		return hap.NewResponseError(plainM3, plainM4)
	}

	if !session.VerifyServerAuthenticator(plainM4.Proof) {
		return errors.New("controller: wrong server auth")
	}

	// STEP M5. Generate signature
	localSign, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info",
	)
	if err != nil {
		return
	}

	b := hap.Append(localSign, c.ClientID, c.ClientPublic())
	signature, err := ed25519.Signature(c.ClientPrivate, b)
	if err != nil {
		return
	}

	plainM5 := struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: c.ClientID,
		PublicKey:  c.ClientPublic(),
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(plainM5); err != nil {
		return
	}

	encryptKey, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info",
	)
	if err != nil {
		return
	}

	if b, err = chacha20poly1305.Encrypt(encryptKey, "PS-Msg05", b); err != nil {
		return
	}

	cipherM5 := struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         hap.StateM5,
	}
	if res, err = c.postTLV(hap.PathPairSetup, cipherM5); err != nil {
		return
	}

	// STEP M6. Read response
	var cipherM6 struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
		Error         byte   `tlv8:"7"`
	}
	if err = unmarshalBody(res, &cipherM6); err != nil {
		return
	}
	if cipherM6.Error != 0 {
		return hap.TLVError(cipherM6.Error)
	}
	if cipherM6.State != hap.StateM6 {
		return hap.NewResponseError(plainM5, cipherM6)
	}

	if b, err = chacha20poly1305.Decrypt(encryptKey, "PS-Msg06", cipherM6.EncryptedData); err != nil {
		return
	}

	var plainM6 struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM6); err != nil {
		return
	}

	remoteSign, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info",
	)
	if err != nil {
		return
	}

	b = hap.Append(remoteSign, plainM6.Identifier, plainM6.PublicKey)
	if !ed25519.ValidateSignature(plainM6.PublicKey, b, plainM6.Signature) {
		return errors.New("controller: wrong accessory sign")
	}

	if c.DeviceID != "" && c.DeviceID != plainM6.Identifier {
		return errors.New("controller: wrong DeviceID: " + plainM6.Identifier)
	}

	c.DeviceID = plainM6.Identifier
	c.DevicePublic = plainM6.PublicKey

	return nil
}

// Verify runs pair-verify M1-M4. On encrypted connection it replaces session keys.
func (c *Client) Verify() (err error) {
	if c.conn == nil {
		if err = c.dial(); err != nil {
			return
		}
	}

	// STEP M1: send our session public to device
	sessionPublic, sessionPrivate, err := curve25519.GenerateKeyPair()
	if err != nil {
		return
	}

	plainM1 := struct {
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}{
		PublicKey: sessionPublic,
		State:     hap.StateM1,
	}
	res, err := c.postTLV(hap.PathPairVerify, plainM1)
	if err != nil {
		return
	}

	// STEP M2: unpack deviceID from response
	var cipherM2 struct {
		PublicKey     []byte `tlv8:"3"`
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
		Error         byte   `tlv8:"7"`
	}
	if err = unmarshalBody(res, &cipherM2); err != nil {
		return
	}
	if cipherM2.Error != 0 {
		return hap.TLVError(cipherM2.Error)
	}
	if cipherM2.State != hap.StateM2 {
		return hap.NewResponseError(plainM1, cipherM2)
	}

	sessionShared, err := curve25519.SharedSecret(sessionPrivate, cipherM2.PublicKey)
	if err != nil {
		return
	}

	sessionKey, err := hkdf.Sha512(
		sessionShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info",
	)
	if err != nil {
		return
	}

	b, err := chacha20poly1305.Decrypt(sessionKey, "PV-Msg02", cipherM2.EncryptedData)
	if err != nil {
		return
	}

	var plainM2 struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM2); err != nil {
		return
	}

	// device session + device id + our session
	if c.DevicePublic != nil {
		b = hap.Append(cipherM2.PublicKey, plainM2.Identifier, sessionPublic)
		if !ed25519.ValidateSignature(c.DevicePublic, b, plainM2.Signature) {
			return errors.New("controller: wrong accessory sign")
		}
	}

	// STEP M3: our session + our ID + device session
	b = hap.Append(sessionPublic, c.ClientID, cipherM2.PublicKey)
	if b, err = ed25519.Signature(c.ClientPrivate, b); err != nil {
		return
	}

	plainM3 := struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: c.ClientID,
		Signature:  b,
	}
	if b, err = tlv8.Marshal(plainM3); err != nil {
		return
	}

	if b, err = chacha20poly1305.Encrypt(sessionKey, "PV-Msg03", b); err != nil {
		return
	}

	cipherM3 := struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         hap.StateM3,
	}
	if res, err = c.postTLV(hap.PathPairVerify, cipherM3); err != nil {
		return
	}

	// STEP M4. Read response
	var plainM4 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = unmarshalBody(res, &plainM4); err != nil {
		return
	}
	if plainM4.Error != 0 {
		return hap.TLVError(plainM4.Error)
	}
	if plainM4.State != hap.StateM4 {
		return hap.NewResponseError(cipherM3, plainM4)
	}

	// like tls.Client wrapper over net.Conn
	return c.switchSecure(sessionShared)
}

// Pairing of list response
type Pairing struct {
	ClientID    string
	PublicKey   []byte
	Permissions byte
}

func (c *Client) ListPairings() ([]Pairing, error) {
	plainM1 := struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}{
		Method: hap.MethodListPairings,
		State:  hap.StateM1,
	}
	res, err := c.postTLV(hap.PathPairings, plainM1)
	if err != nil {
		return nil, err
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	groups, err := tlv8.DecodeGroups(b)
	if err != nil {
		return nil, err
	}

	var pairings []Pairing
	for _, group := range groups {
		if v, ok := tlv8.Find(group, hap.TypeError); ok && len(v) == 1 {
			return nil, hap.TLVError(v[0])
		}

		id, ok := tlv8.Find(group, hap.TypeIdentifier)
		if !ok {
			continue
		}

		pairing := Pairing{ClientID: string(id)}
		pairing.PublicKey, _ = tlv8.Find(group, hap.TypePublicKey)
		if v, ok := tlv8.Find(group, hap.TypePermissions); ok && len(v) == 1 {
			pairing.Permissions = v[0]
		}
		pairings = append(pairings, pairing)
	}

	return pairings, nil
}

func (c *Client) AddPairing(clientID string, clientPublic []byte, admin bool) error {
	plainM1 := struct {
		Method     byte   `tlv8:"0"`
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		State      byte   `tlv8:"6"`
		Permission byte   `tlv8:"11"`
	}{
		Method:     hap.MethodAddPairing,
		Identifier: clientID,
		PublicKey:  clientPublic,
		State:      hap.StateM1,
		Permission: hap.PermissionUser,
	}
	if admin {
		plainM1.Permission = hap.PermissionAdmin
	}
	return c.pairingsRequest(plainM1)
}

func (c *Client) RemovePairing(clientID string) error {
	plainM1 := struct {
		Method     byte   `tlv8:"0"`
		Identifier string `tlv8:"1"`
		State      byte   `tlv8:"6"`
	}{
		Method:     hap.MethodDeletePairing,
		Identifier: clientID,
		State:      hap.StateM1,
	}
	return c.pairingsRequest(plainM1)
}

func (c *Client) pairingsRequest(req any) error {
	res, err := c.postTLV(hap.PathPairings, req)
	if err != nil {
		return err
	}

	var plainM2 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = unmarshalBody(res, &plainM2); err != nil {
		return err
	}
	if plainM2.Error != 0 {
		return hap.TLVError(plainM2.Error)
	}
	if plainM2.State != hap.StateM2 {
		return hap.NewResponseError(req, plainM2)
	}
	return nil
}

func (c *Client) postTLV(path string, v any) (*http.Response, error) {
	b, err := tlv8.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.Post(path, hap.MimeTLV8, b)
}

func unmarshalBody(res *http.Response, v any) error {
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	return tlv8.Unmarshal(b, v)
}
