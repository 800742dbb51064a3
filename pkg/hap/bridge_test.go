package hap

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDevices() []Device {
	return []Device{
		{
			ID:           "thermostat",
			Name:         "Thermostat",
			Manufacturer: "FastyBird",
			Channels: []Channel{
				{
					ID:      "sensor",
					Service: "8A",
					Properties: []Property{
						{ID: "temperature", Type: "11", DataType: "float", Format: "-40:100", Unit: UnitCelsius},
					},
				},
			},
		},
		{
			ID:           "light",
			Name:         "Light",
			Manufacturer: "FastyBird",
			Model:        "LED",
			Channels: []Channel{
				{
					ID:      "light",
					Service: "43",
					Primary: true,
					Properties: []Property{
						{ID: "on", Type: "25", DataType: "bool", Perms: EVPRPW},
						{ID: "brightness", Type: "8", DataType: "uchar", Format: "0:100", Perms: EVPRPW},
					},
				},
				{
					ID:      "battery",
					Service: "96",
					Properties: []Property{
						{ID: "level", Type: "68", DataType: "uchar", Format: "0:100"},
					},
				},
			},
		},
		{
			ID:     "light-child",
			Name:   "Bulb",
			Parent: "light",
			Channels: []Channel{
				{
					ID:      "light",
					Service: "00000043-0000-1000-8000-0026BB765291",
					Linked:  []string{"label"},
					Properties: []Property{
						{ID: "on", Type: "25", DataType: "bool", Perms: EVPRPW},
					},
				},
				{
					ID:      "label",
					Service: "CC",
					Properties: []Property{
						{ID: "namespace", Type: "CD", DataType: "uchar", Format: "0,1", Perms: PR},
					},
				},
			},
		},
	}
}

// countingState is a state store that counts calls and can fail
type countingState struct {
	*MemoryState
	reads  int
	writes int
	err    error
	mu     sync.Mutex
}

func newCountingState() *countingState {
	return &countingState{MemoryState: NewMemoryState()}
}

func (c *countingState) ReadValue(ctx context.Context, ref PropertyRef) (any, error) {
	c.mu.Lock()
	c.reads++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.MemoryState.ReadValue(ctx, ref)
}

func (c *countingState) WriteValue(ctx context.Context, ref PropertyRef, value any) error {
	c.mu.Lock()
	c.writes++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryState.WriteValue(ctx, ref, value)
}

func (c *countingState) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func TestIDAllocator(t *testing.T) {
	ids := NewIDAllocator()

	aids := ids.Assign([]string{"b", "a"})
	require.Equal(t, map[string]uint64{"a": 2, "b": 3}, aids)

	aids = ids.Assign([]string{"c", "b"})
	require.Equal(t, map[string]uint64{"b": 3, "c": 4}, aids)

	aids = ids.Assign([]string{"a"})
	require.Equal(t, map[string]uint64{"a": 2}, aids)
}

func TestBuildAccessories(t *testing.T) {
	accs, refs, err := BuildAccessories(BridgeInfo{Name: "Bridge"}, testDevices(), NewIDAllocator())
	require.Nil(t, err)
	require.Len(t, accs, 4)

	// bridge
	require.Equal(t, uint64(1), accs[0].AID)
	require.Equal(t, ServiceTypeAccessoryInformation, accs[0].Services[0].Type)
	require.Equal(t, ServiceTypeHAPProtocolInformation, accs[0].Services[1].Type)

	// aid in order of identifier: light, light-child, thermostat
	light := accs[1]
	require.Equal(t, uint64(2), light.AID)
	require.Equal(t, "Light", light.GetCharacter("23").Value)
	require.Equal(t, uint64(3), accs[2].AID)
	require.Equal(t, uint64(4), accs[3].AID)

	// info service iid 1 with chars 2..7, battery channel goes first
	require.Equal(t, uint64(1), light.Services[0].IID)
	battery := light.Services[1]
	require.Equal(t, "96", battery.Type)
	require.Equal(t, uint64(8), battery.IID)
	require.Equal(t, uint64(9), battery.Characters[0].IID)

	service := light.Services[2]
	require.Equal(t, "43", service.Type)
	require.Equal(t, uint64(10), service.IID)
	require.True(t, service.Primary)
	require.Equal(t, "8", service.Characters[0].Type) // brightness before on
	require.Equal(t, uint64(11), service.Characters[0].IID)
	require.Equal(t, uint64(12), service.Characters[1].IID)
	require.Equal(t, 100.0, *service.Characters[0].MaxValue)

	require.Equal(t, PropertyRef{Device: "light", Channel: "light", Property: "on"}, refs[CharID{AID: 2, IID: 12}])

	// child inherits manufacturer and model, links channel by iid
	child := accs[2]
	require.Equal(t, "FastyBird", child.GetCharacter("20").Value)
	require.Equal(t, "LED", child.GetCharacter("21").Value)
	require.Equal(t, "CC", child.Services[1].Type)
	require.Equal(t, []uint64{child.Services[1].IID}, child.Services[2].Linked)
	require.Equal(t, []float64{0, 1}, child.Services[1].Characters[0].ValidValues)
}

func TestBuildAccessoriesStable(t *testing.T) {
	expect, refs1, err := BuildAccessories(BridgeInfo{}, testDevices(), NewIDAllocator())
	require.Nil(t, err)

	for i := 0; i < 10; i++ {
		devices := testDevices()
		rand.Shuffle(len(devices), func(i, j int) { devices[i], devices[j] = devices[j], devices[i] })
		for _, device := range devices {
			channels := device.Channels
			rand.Shuffle(len(channels), func(i, j int) { channels[i], channels[j] = channels[j], channels[i] })
			for _, channel := range channels {
				props := channel.Properties
				rand.Shuffle(len(props), func(i, j int) { props[i], props[j] = props[j], props[i] })
			}
		}

		accs, refs2, err := BuildAccessories(BridgeInfo{}, devices, NewIDAllocator())
		require.Nil(t, err)
		require.Equal(t, expect, accs)
		require.Equal(t, refs1, refs2)
	}
}

func TestBuildAccessoriesErrors(t *testing.T) {
	_, _, err := BuildAccessories(BridgeInfo{}, []Device{{ID: "a"}, {ID: "a"}}, NewIDAllocator())
	require.NotNil(t, err)

	_, _, err = BuildAccessories(BridgeInfo{}, []Device{{Name: "no id"}}, NewIDAllocator())
	require.NotNil(t, err)

	devices := []Device{{ID: "a", Channels: []Channel{{ID: "c", Service: "xyz"}}}}
	_, _, err = BuildAccessories(BridgeInfo{}, devices, NewIDAllocator())
	require.ErrorIs(t, err, ErrInvalidType)

	devices = []Device{{ID: "a", Channels: []Channel{{ID: "c", Service: "43", Properties: []Property{
		{ID: "p", Type: "25", DataType: "matrix"},
	}}}}}
	_, _, err = BuildAccessories(BridgeInfo{}, devices, NewIDAllocator())
	require.NotNil(t, err)

	devices = []Device{{ID: "a", Channels: []Channel{{ID: "c", Service: "43"}, {ID: "c", Service: "43"}}}}
	_, _, err = BuildAccessories(BridgeInfo{}, devices, NewIDAllocator())
	require.NotNil(t, err)

	devices = []Device{{ID: "a", Channels: []Channel{{ID: "c", Service: "43", Properties: []Property{
		{ID: "p", Type: "25", DataType: "bool"}, {ID: "p", Type: "25", DataType: "bool"},
	}}}}}
	_, _, err = BuildAccessories(BridgeInfo{}, devices, NewIDAllocator())
	require.NotNil(t, err)
}

func TestBridgeRebuildKeepsAID(t *testing.T) {
	devices := testDevices()
	cfg := StaticConfiguration(devices)
	bridge := NewBridge(BridgeInfo{}, &cfg, NewMemoryState())

	require.Nil(t, bridge.Rebuild(context.Background()))
	require.Len(t, bridge.Accessories(), 4)

	// remove light, add new device
	cfg = StaticConfiguration{devices[0], devices[2], {ID: "a-new", Name: "New"}}
	require.Nil(t, bridge.Rebuild(context.Background()))

	aids := map[string]uint64{}
	for _, acc := range bridge.Accessories()[1:] {
		aids[acc.GetCharacter("23").Value.(string)] = acc.AID
	}
	require.Equal(t, map[string]uint64{"Thermostat": 4, "Bulb": 3, "New": 5}, aids)
}

func TestBridgeRebuildKeepsIID(t *testing.T) {
	devices := testDevices()
	cfg := StaticConfiguration(devices)
	bridge := NewBridge(BridgeInfo{}, &cfg, NewMemoryState())
	require.Nil(t, bridge.Rebuild(context.Background()))

	on := PropertyRef{Device: "light", Channel: "light", Property: "on"}
	brightness := PropertyRef{Device: "light", Channel: "light", Property: "brightness"}

	onID, _, ok := bridge.Update(on, true)
	require.True(t, ok)
	brightnessID, _, ok := bridge.Update(brightness, float64(10))
	require.True(t, ok)

	// new property sorts before existing ones
	light := &devices[1].Channels[0]
	light.Properties = append(light.Properties, Property{ID: "alpha", Type: "13", DataType: "float", Format: "0:360"})
	cfg = StaticConfiguration(devices)
	require.Nil(t, bridge.Rebuild(context.Background()))

	id, _, ok := bridge.Update(on, false)
	require.True(t, ok)
	require.Equal(t, onID, id)

	ref, ok := bridge.Ref(brightnessID)
	require.True(t, ok)
	require.Equal(t, brightness, ref)

	alpha := PropertyRef{Device: "light", Channel: "light", Property: "alpha"}
	id, _, ok = bridge.Update(alpha, float64(90))
	require.True(t, ok)
	require.Greater(t, id.IID, brightnessID.IID)
	require.Greater(t, id.IID, onID.IID)

	// removed property leaves its iid free, it's never given to other one
	light.Properties = light.Properties[:1]
	cfg = StaticConfiguration(devices)
	require.Nil(t, bridge.Rebuild(context.Background()))

	_, ok = bridge.Ref(brightnessID)
	require.False(t, ok)
	_, ok = bridge.Character(brightnessID)
	require.False(t, ok)

	id, _, ok = bridge.Update(on, true)
	require.True(t, ok)
	require.Equal(t, onID, id)
}

func newTestBridge(t *testing.T, state StateStore) *Bridge {
	bridge := NewBridge(BridgeInfo{Name: "Bridge"}, StaticConfiguration(testDevices()), state)
	require.Nil(t, bridge.Rebuild(context.Background()))
	return bridge
}

func TestBridgeRead(t *testing.T) {
	state := newCountingState()
	bridge := newTestBridge(t, state)
	ctx := context.Background()

	ref := PropertyRef{Device: "light", Channel: "light", Property: "brightness"}
	require.Nil(t, state.WriteValue(ctx, ref, 42))

	v, err := bridge.ReadCharacteristic(ctx, CharID{AID: 2, IID: 11})
	require.Nil(t, err)
	require.Equal(t, int64(42), v)

	// store failure returns cached value
	state.err = errors.New("offline")
	v, err = bridge.ReadCharacteristic(ctx, CharID{AID: 2, IID: 11})
	require.Nil(t, err)
	require.Equal(t, int64(42), v)

	_, err = bridge.ReadCharacteristic(ctx, CharID{AID: 2, IID: 100})
	require.ErrorIs(t, err, ErrResourceDoesNotExist)

	// identify is write only
	_, err = bridge.ReadCharacteristic(ctx, CharID{AID: 2, IID: 2})
	require.ErrorIs(t, err, ErrWriteOnly)

	// bridge info without store
	v, err = bridge.ReadCharacteristic(ctx, CharID{AID: 1, IID: 5})
	require.Nil(t, err)
	require.Equal(t, "Bridge", v)
}

func TestBridgeWrite(t *testing.T) {
	state := newCountingState()
	bridge := newTestBridge(t, state)
	ctx := context.Background()

	id := CharID{AID: 2, IID: 11}

	v, err := bridge.WriteCharacteristic(ctx, id, float64(50))
	require.Nil(t, err)
	require.Equal(t, int64(50), v)
	require.Equal(t, 1, state.Writes())

	// invalid value never reaches the store
	_, err = bridge.WriteCharacteristic(ctx, id, float64(150))
	require.ErrorIs(t, err, ErrInvalidValue)
	_, err = bridge.WriteCharacteristic(ctx, id, "50")
	require.ErrorIs(t, err, ErrInvalidValue)
	require.Equal(t, 1, state.Writes())

	// battery level is read only
	_, err = bridge.WriteCharacteristic(ctx, CharID{AID: 2, IID: 9}, float64(50))
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, 1, state.Writes())

	state.err = errors.New("offline")
	_, err = bridge.WriteCharacteristic(ctx, id, float64(60))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Equal(t, StatusServiceCommunicationFailure, StatusOf(err))

	char, ok := bridge.Character(id)
	require.True(t, ok)
	require.Equal(t, int64(50), char.Value)
}

func TestBridgeUpdate(t *testing.T) {
	bridge := newTestBridge(t, NewMemoryState())

	id, v, ok := bridge.Update(PropertyRef{Device: "light", Channel: "light", Property: "on"}, float64(1))
	require.True(t, ok)
	require.Equal(t, CharID{AID: 2, IID: 12}, id)
	require.Equal(t, true, v)

	_, _, ok = bridge.Update(PropertyRef{Device: "light", Channel: "light", Property: "on"}, "on")
	require.False(t, ok)

	_, _, ok = bridge.Update(PropertyRef{Device: "unknown"}, 1)
	require.False(t, ok)

	// value survives rebuild
	require.Nil(t, bridge.Rebuild(context.Background()))
	char, _ := bridge.Character(CharID{AID: 2, IID: 12})
	require.Equal(t, true, char.Value)
}
