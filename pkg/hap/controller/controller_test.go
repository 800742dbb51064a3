package controller

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fastybird/hapbridge/pkg/hap"
	"github.com/fastybird/hapbridge/pkg/hap/secure"
	"github.com/stretchr/testify/require"
)

const testPin = "031-45-154"

var (
	lightOn         = hap.PropertyRef{Device: "light", Channel: "light", Property: "on"}
	lightBrightness = hap.PropertyRef{Device: "light", Channel: "light", Property: "brightness"}

	idBrightness = hap.CharID{AID: 2, IID: 9}
	idOn         = hap.CharID{AID: 2, IID: 10}
	idModel      = hap.CharID{AID: 2, IID: 4}
)

// testState is memory state store which counts writes
type testState struct {
	*hap.MemoryState
	writes chan hap.PropertyRef
}

func (s *testState) WriteValue(ctx context.Context, ref hap.PropertyRef, value any) error {
	s.writes <- ref
	return s.MemoryState.WriteValue(ctx, ref, value)
}

func newTestServer(t *testing.T, opts ...func(srv *hap.Server)) (*hap.Server, *testState, string) {
	devices := hap.StaticConfiguration{
		{
			ID:    "light",
			Name:  "Light",
			Model: "LED",
			Channels: []hap.Channel{
				{
					ID:      "light",
					Service: "43",
					Primary: true,
					Properties: []hap.Property{
						{ID: "brightness", Type: "8", DataType: "uchar", Format: "0:100", Perms: hap.EVPRPW},
						{ID: "on", Type: "25", DataType: "bool", Perms: hap.EVPRPW},
					},
				},
			},
		},
	}

	state := &testState{MemoryState: hap.NewMemoryState(), writes: make(chan hap.PropertyRef, 10)}

	srv := &hap.Server{
		DeviceID:      "AA:BB:CC:DD:EE:FF",
		DevicePrivate: hap.GenerateKey(),
		Pin:           testPin,
		Bridge:        hap.NewBridge(hap.BridgeInfo{Name: "Bridge"}, devices, state),
		Pairings:      hap.NewMemoryPairings(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	require.Nil(t, srv.Reload(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	return srv, state, ln.Addr().String()
}

func newTestClient(t *testing.T, addr string) *Client {
	c := &Client{
		DeviceAddress: addr,
		ClientID:      hap.GenerateUUID(),
		ClientPrivate: hap.GenerateKey(),
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// pairTestClient runs pair-setup and connects with pair-verify
func pairTestClient(t *testing.T, addr string) *Client {
	c := newTestClient(t, addr)
	require.Nil(t, c.Pair(testPin))
	require.Nil(t, c.Close())
	require.Nil(t, c.Dial())
	return c
}

func TestPairAndRead(t *testing.T) {
	srv, state, addr := newTestServer(t)
	require.False(t, srv.Paired())

	c := newTestClient(t, addr)
	require.Nil(t, c.Pair(testPin))
	require.Equal(t, "AA:BB:CC:DD:EE:FF", c.DeviceID)
	require.Equal(t, srv.ServerPublic(), c.DevicePublic)
	require.True(t, srv.Paired())

	pairing, err := srv.Pairings.Get(c.ClientID)
	require.Nil(t, err)
	require.True(t, pairing.IsAdmin())
	require.Equal(t, c.ClientPublic(), pairing.PublicKey)

	// new connection must be verified
	require.Nil(t, c.Close())
	require.Nil(t, c.Dial())
	require.True(t, c.Verified())

	accs, err := c.GetAccessories()
	require.Nil(t, err)
	require.Len(t, accs, 2)
	require.Equal(t, uint64(2), accs[1].AID)
	require.Equal(t, "43", accs[1].Services[1].Type)

	require.Nil(t, state.MemoryState.WriteValue(context.Background(), lightBrightness, 42))

	v, err := c.GetCharacter(idBrightness)
	require.Nil(t, err)
	require.Equal(t, float64(42), v)

	v, err = c.GetCharacter(idModel)
	require.Nil(t, err)
	require.Equal(t, "LED", v)

	chars, err := c.GetCharacters([]hap.CharID{idBrightness}, "meta=1&perms=1&type=1&ev=1")
	require.Nil(t, err)
	require.Len(t, chars, 1)
	require.Equal(t, hap.FormatUInt8, chars[0].Format)
	require.Equal(t, "8", chars[0].Type)
	require.Equal(t, hap.EVPRPW, chars[0].Perms)
	require.Equal(t, 100.0, *chars[0].MaxValue)
	require.False(t, *chars[0].Event)
}

func TestReadMultiStatus(t *testing.T) {
	_, _, addr := newTestServer(t)
	c := pairTestClient(t, addr)

	chars, err := c.GetCharacters([]hap.CharID{idModel, {AID: 2, IID: 100}, {AID: 2, IID: 2}}, "")
	require.Nil(t, err)
	require.Len(t, chars, 3)

	require.Equal(t, hap.StatusSuccess, *chars[0].Status)
	require.Equal(t, "LED", chars[0].Value)
	require.Equal(t, hap.StatusResourceDoesNotExist, *chars[1].Status)
	require.Equal(t, hap.StatusWriteOnly, *chars[2].Status)

	_, err = c.Get(hap.PathCharacteristics + "?id=2_9")
	require.NotNil(t, err)
	require.Equal(t, hap.StatusInvalidValue, err.(*StatusError).Status)
}

func TestPairSetupWrongPin(t *testing.T) {
	srv, _, addr := newTestServer(t)

	c := newTestClient(t, addr)
	require.ErrorIs(t, c.Pair("111-22-333"), hap.TLVErrorAuthentication)
	require.False(t, srv.Paired())

	require.Nil(t, c.Pair(testPin))
	require.True(t, srv.Paired())

	// only one pair-setup, next controllers are added by admin
	c2 := newTestClient(t, addr)
	require.ErrorIs(t, c2.Pair(testPin), hap.TLVErrorUnavailable)
}

func TestVerifyUnknownController(t *testing.T) {
	_, _, addr := newTestServer(t)
	pairTestClient(t, addr)

	c := newTestClient(t, addr)
	require.ErrorIs(t, c.Dial(), hap.TLVErrorAuthentication)
}

func TestUnverified(t *testing.T) {
	_, _, addr := newTestServer(t)

	c := newTestClient(t, addr)
	require.Nil(t, c.dial())

	_, err := c.GetAccessories()
	require.NotNil(t, err)
	require.Equal(t, hap.StatusConnectionAuthorizationRequired, err.(*StatusError).StatusCode)
}

func TestReverify(t *testing.T) {
	_, _, addr := newTestServer(t)
	c := pairTestClient(t, addr)

	sc := c.secure
	shared := c.shared
	require.Nil(t, c.Verify())
	require.Same(t, sc, c.secure)
	require.NotEqual(t, shared, c.shared)

	// requests go with new keys
	v, err := c.GetCharacter(idModel)
	require.Nil(t, err)
	require.Equal(t, "LED", v)

	// frame sealed with previous keys closes the session
	old, err := secure.Client(c.conn, shared)
	require.Nil(t, err)

	req, err := http.NewRequest("GET", "http://"+addr+hap.PathAccessories, nil)
	require.Nil(t, err)
	buf := bytes.NewBuffer(nil)
	require.Nil(t, req.Write(buf))
	_, err = old.Write(buf.Bytes())
	require.Nil(t, err)

	_, err = c.GetCharacter(idModel)
	require.NotNil(t, err)
}

func TestWrite(t *testing.T) {
	_, state, addr := newTestServer(t)
	c := pairTestClient(t, addr)

	statuses, err := c.PutCharacters(hap.JSONCharacter{AID: 2, IID: 9, Value: 50})
	require.Nil(t, err)
	require.Nil(t, statuses)
	require.Equal(t, lightBrightness, <-state.writes)

	v, err := state.MemoryState.ReadValue(context.Background(), lightBrightness)
	require.Nil(t, err)
	require.Equal(t, int64(50), v)

	// invalid and read only values never reach the store
	statuses, err = c.PutCharacters(
		hap.JSONCharacter{AID: 2, IID: 9, Value: 150},
		hap.JSONCharacter{AID: 2, IID: 10, Value: "on"},
		hap.JSONCharacter{AID: 2, IID: 4, Value: "Model"},
		hap.JSONCharacter{AID: 3, IID: 9, Value: 1},
	)
	require.Nil(t, err)
	require.Len(t, statuses, 4)
	require.Equal(t, hap.StatusInvalidValue, *statuses[0].Status)
	require.Equal(t, hap.StatusInvalidValue, *statuses[1].Status)
	require.Equal(t, hap.StatusReadOnly, *statuses[2].Status)
	require.Equal(t, hap.StatusResourceDoesNotExist, *statuses[3].Status)
	require.Len(t, state.writes, 0)

	// notifications are not supported by model
	statuses, err = c.Subscribe(true, idModel)
	require.Nil(t, err)
	require.Equal(t, hap.StatusNotificationNotSupported, *statuses[0].Status)
}

func TestEvents(t *testing.T) {
	srv, state, addr := newTestServer(t)

	c1 := pairTestClient(t, addr)

	c2 := newTestClient(t, addr)
	require.Nil(t, c1.AddPairing(c2.ClientID, c2.ClientPublic(), false))
	c2.DevicePublic = c1.DevicePublic
	require.Nil(t, c2.Dial())

	for _, c := range []*Client{c1, c2} {
		statuses, err := c.Subscribe(true, idOn)
		require.Nil(t, err)
		require.Nil(t, statuses)
	}

	// change from the platform goes to all subscribers, exactly once
	srv.Notify(lightOn, true)

	for _, c := range []*Client{c1, c2} {
		event, err := c.ReadEvent(2 * time.Second)
		require.Nil(t, err)
		require.Len(t, event.Characters, 1)
		require.Equal(t, idOn.AID, event.Characters[0].AID)
		require.Equal(t, idOn.IID, event.Characters[0].IID)
		require.Equal(t, true, event.Characters[0].Value)
	}

	// writer doesn't get own change
	_, err := c1.PutCharacters(hap.JSONCharacter{AID: idOn.AID, IID: idOn.IID, Value: false})
	require.Nil(t, err)
	require.Equal(t, lightOn, <-state.writes)

	event, err := c2.ReadEvent(2 * time.Second)
	require.Nil(t, err)
	require.Equal(t, false, event.Characters[0].Value)

	_, err = c1.ReadEvent(200 * time.Millisecond)
	require.NotNil(t, err)
	require.Equal(t, 0, c2.Events())
}

func TestPairings(t *testing.T) {
	srv, _, addr := newTestServer(t)

	admin := pairTestClient(t, addr)

	user := newTestClient(t, addr)
	require.Nil(t, admin.AddPairing(user.ClientID, user.ClientPublic(), false))

	// same id with other key is an error
	require.ErrorIs(t, admin.AddPairing(user.ClientID, hap.GenerateKey()[32:], false), hap.TLVErrorUnknown)

	pairings, err := admin.ListPairings()
	require.Nil(t, err)
	require.Len(t, pairings, 2)
	require.Equal(t, admin.ClientID, pairings[0].ClientID)
	require.Equal(t, byte(hap.PermissionAdmin), pairings[0].Permissions)
	require.Equal(t, user.ClientID, pairings[1].ClientID)
	require.Equal(t, byte(hap.PermissionUser), pairings[1].Permissions)
	require.Equal(t, user.ClientPublic(), pairings[1].PublicKey)

	require.Nil(t, user.Dial())

	// user can't manage pairings
	_, err = user.ListPairings()
	require.ErrorIs(t, err, hap.TLVErrorAuthentication)

	// removed controller loses its sessions
	require.Nil(t, admin.RemovePairing(user.ClientID))
	_, err = user.GetAccessories()
	require.NotNil(t, err)

	// removing the last admin removes everything
	require.Nil(t, admin.RemovePairing(admin.ClientID))
	require.Eventually(t, func() bool { return !srv.Paired() }, time.Second, 10*time.Millisecond)
}

func TestMaxPairings(t *testing.T) {
	_, _, addr := newTestServer(t, func(srv *hap.Server) { srv.MaxPairings = 2 })

	admin := pairTestClient(t, addr)
	require.Nil(t, admin.AddPairing(hap.GenerateUUID(), hap.GenerateKey()[32:], false))
	require.ErrorIs(t, admin.AddPairing(hap.GenerateUUID(), hap.GenerateKey()[32:], false), hap.TLVErrorMaxPeers)
}
