package hap

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type BridgeInfo struct {
	Name         string
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// CharID is global address of characteristic
type CharID struct {
	AID uint64
	IID uint64
}

func (c CharID) String() string {
	return fmt.Sprintf("%d.%d", c.AID, c.IID)
}

// IDAllocator gives aid to device identifiers. Once assigned, aid never
// changes for the allocator lifetime, new identifiers get next free aid.
// Each aid has own allocator of iids for services and characteristics.
type IDAllocator struct {
	ids  map[string]uint64
	next uint64
	iids map[uint64]*IDAllocator
	mu   sync.Mutex
}

func NewIDAllocator() *IDAllocator {
	return newIDAllocator(BridgeAID + 1)
}

func newIDAllocator(first uint64) *IDAllocator {
	return &IDAllocator{ids: map[string]uint64{}, next: first}
}

// Assign aid for all keys, new keys are numbered in sorted order
func (a *IDAllocator) Assign(keys []string) map[string]uint64 {
	keys = slices.Clone(keys)
	slices.Sort(keys)

	a.mu.Lock()
	defer a.mu.Unlock()

	res := make(map[string]uint64, len(keys))
	for _, key := range keys {
		res[key] = a.id(key)
	}
	return res
}

// ID returns known id of key or the next free one
func (a *IDAllocator) ID(key string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id(key)
}

func (a *IDAllocator) id(key string) uint64 {
	id, ok := a.ids[key]
	if !ok {
		id = a.next
		a.next++
		a.ids[key] = id
	}
	return id
}

// IIDs returns iid allocator of accessory, iids start from 1
func (a *IDAllocator) IIDs(aid uint64) *IDAllocator {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.iids == nil {
		a.iids = map[uint64]*IDAllocator{}
	}
	iids, ok := a.iids[aid]
	if !ok {
		iids = newIDAllocator(1)
		a.iids[aid] = iids
	}
	return iids
}

// BuildAccessories converts configuration snapshot to accessory tree. Bridge
// accessory has aid 1, devices are sorted by identifier.
func BuildAccessories(info BridgeInfo, devices []Device, ids *IDAllocator) ([]*Accessory, map[CharID]PropertyRef, error) {
	devices = slices.Clone(devices)
	slices.SortFunc(devices, func(a, b Device) int {
		return strings.Compare(a.ID, b.ID)
	})

	keys := make([]string, 0, len(devices))
	byID := make(map[string]*Device, len(devices))
	for i := range devices {
		device := &devices[i]
		if device.ID == "" {
			return nil, nil, fmt.Errorf("hap: device without identifier: %q", device.Name)
		}
		if _, ok := byID[device.ID]; ok {
			return nil, nil, fmt.Errorf("hap: duplicate device identifier: %s", device.ID)
		}
		byID[device.ID] = device
		keys = append(keys, device.ID)
	}

	aids := ids.Assign(keys)

	bridge := &Accessory{
		AID: BridgeAID,
		Services: []*Service{
			ServiceAccessoryInformation(info.Manufacturer, info.Model, info.Name, info.Serial, info.Firmware),
			ServiceHAPProtocolInformation(),
		},
	}
	bridge.InitIID(ids.IIDs(BridgeAID))

	accs := []*Accessory{bridge}
	refs := map[CharID]PropertyRef{}

	for i := range devices {
		device := &devices[i]

		acc, err := buildAccessory(aids[device.ID], device, byID[device.Parent], ids.IIDs(aids[device.ID]), refs)
		if err != nil {
			return nil, nil, err
		}
		accs = append(accs, acc)
	}

	// aid order, not identifier order, for stable /accessories output
	slices.SortFunc(accs, func(a, b *Accessory) int {
		return int(a.AID) - int(b.AID)
	})

	return accs, refs, nil
}

func buildAccessory(aid uint64, device, parent *Device, iids *IDAllocator, refs map[CharID]PropertyRef) (*Accessory, error) {
	manufacturer, model := device.Manufacturer, device.Model
	if device.Kind() == DeviceBridgedChild && parent != nil {
		if manufacturer == "" {
			manufacturer = parent.Manufacturer
		}
		if model == "" {
			model = parent.Model
		}
	}

	name := device.Name
	if name == "" {
		name = device.ID
	}

	serial := device.Serial
	if serial == "" {
		serial = device.ID
	}

	acc := &Accessory{
		AID: aid,
		Services: []*Service{
			ServiceAccessoryInformation(manufacturer, model, name, serial, device.Firmware),
		},
	}

	channels := slices.Clone(device.Channels)
	slices.SortFunc(channels, func(a, b Channel) int {
		return strings.Compare(a.ID, b.ID)
	})

	type propRef struct {
		char *Character
		ref  PropertyRef
	}

	var props []propRef
	serviceByChannel := map[string]*Service{}

	for i, channel := range channels {
		if i > 0 && channels[i-1].ID == channel.ID {
			return nil, fmt.Errorf("hap: device %s: duplicate channel identifier: %s", device.ID, channel.ID)
		}

		serviceType, err := NormalizeType(channel.Service)
		if err != nil {
			return nil, fmt.Errorf("hap: device %s channel %s: %w: %q", device.ID, channel.ID, err, channel.Service)
		}

		service := &Service{
			Type:    serviceType,
			Primary: channel.Primary,
			Hidden:  channel.Hidden,
			key:     "channel:" + strconv.Quote(channel.ID),
		}

		properties := slices.Clone(channel.Properties)
		slices.SortFunc(properties, func(a, b Property) int {
			return strings.Compare(a.ID, b.ID)
		})

		for j, property := range properties {
			if j > 0 && properties[j-1].ID == property.ID {
				return nil, fmt.Errorf("hap: device %s channel %s: duplicate property identifier: %s", device.ID, channel.ID, property.ID)
			}

			char, err := buildCharacter(&property)
			if err != nil {
				return nil, fmt.Errorf("hap: device %s channel %s property %s: %w", device.ID, channel.ID, property.ID, err)
			}
			char.key = "property:" + strconv.Quote(channel.ID) + "/" + strconv.Quote(property.ID)
			service.Characters = append(service.Characters, char)

			props = append(props, propRef{
				char: char,
				ref:  PropertyRef{Device: device.ID, Channel: channel.ID, Property: property.ID},
			})
		}

		acc.Services = append(acc.Services, service)
		serviceByChannel[channel.ID] = service
	}

	acc.InitIID(iids)

	for _, channel := range channels {
		service := serviceByChannel[channel.ID]
		for _, id := range channel.Linked {
			if linked, ok := serviceByChannel[id]; ok {
				service.Linked = append(service.Linked, linked.IID)
			}
		}
	}

	for _, prop := range props {
		refs[CharID{AID: aid, IID: prop.char.IID}] = prop.ref
	}

	return acc, nil
}

func buildCharacter(property *Property) (*Character, error) {
	charType, err := NormalizeType(property.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, property.Type)
	}

	format := FormatOf(property.DataType)
	if format == "" {
		return nil, fmt.Errorf("hap: unsupported data type: %q", property.DataType)
	}

	minValue, maxValue, validValues, ok := parseFormat(property.Format)
	if !ok {
		return nil, fmt.Errorf("hap: wrong format: %q", property.Format)
	}

	if property.MinValue != nil {
		minValue = property.MinValue
	}
	if property.MaxValue != nil {
		maxValue = property.MaxValue
	}
	if property.ValidValues != nil {
		validValues = property.ValidValues
	}

	perms := property.Perms
	if len(perms) == 0 {
		perms = EVPR
	}

	char := &Character{
		Type:        charType,
		Format:      format,
		Perms:       slices.Clone(perms),
		Unit:        property.Unit,
		MinStep:     property.MinStep,
		MaxLen:      property.MaxLen,
		ValidValues: validValues,
	}

	switch format {
	case FormatBool, FormatString, FormatData, FormatTLV8:
	default:
		char.MinValue = minValue
		char.MaxValue = maxValue
	}

	if property.Value != nil {
		if err = char.Write(property.Value); err != nil {
			return nil, err
		}
	}

	return char, nil
}

// Bridge owns accessory tree and routes characteristic reads and writes
// to the state store. Characters without property keep value locally.
type Bridge struct {
	Info   BridgeInfo
	Config Configuration
	State  StateStore
	Log    zerolog.Logger

	accessories []*Accessory
	chars       map[CharID]*Character
	refs        map[CharID]PropertyRef
	index       map[PropertyRef]CharID

	ids *IDAllocator
	mu  sync.RWMutex
}

func NewBridge(info BridgeInfo, config Configuration, state StateStore) *Bridge {
	b := &Bridge{
		Info:   info,
		Config: config,
		State:  state,
		Log:    zerolog.Nop(),
		ids:    NewIDAllocator(),
	}
	b.accessories, b.refs, _ = BuildAccessories(info, nil, b.ids)
	b.reindex()
	return b
}

// Rebuild reads configuration and replaces tree. Known devices keep their aid.
func (b *Bridge) Rebuild(ctx context.Context) error {
	var devices []Device
	if b.Config != nil {
		var err error
		if devices, err = b.Config.ListDevices(ctx); err != nil {
			return fmt.Errorf("hap: list devices: %w", err)
		}
	}

	accs, refs, err := BuildAccessories(b.Info, devices, b.ids)
	if err != nil {
		return err
	}

	b.mu.Lock()
	// keep last known values over rebuild
	for id, ref := range refs {
		if oldID, ok := b.index[ref]; ok {
			if old := b.chars[oldID]; old != nil && old.Value != nil {
				if char := findCharacter(accs, id); char != nil && char.Format == old.Format {
					char.Value = old.Value
				}
			}
		}
	}
	b.accessories = accs
	b.refs = refs
	b.reindex()
	b.mu.Unlock()

	b.Log.Debug().Msgf("[hap] rebuild accessories=%d characteristics=%d", len(accs), len(refs))

	return nil
}

func (b *Bridge) reindex() {
	b.chars = map[CharID]*Character{}
	b.index = map[PropertyRef]CharID{}

	for _, acc := range b.accessories {
		for _, service := range acc.Services {
			for _, char := range service.Characters {
				b.chars[CharID{AID: acc.AID, IID: char.IID}] = char
			}
		}
	}

	for id, ref := range b.refs {
		b.index[ref] = id
	}
}

func findCharacter(accs []*Accessory, id CharID) *Character {
	for _, acc := range accs {
		if acc.AID == id.AID {
			return acc.GetCharacterByID(id.IID)
		}
	}
	return nil
}

// MarshalAccessories returns JSON body of GET /accessories
func (b *Bridge) MarshalAccessories() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return json.Marshal(JSONAccessories{Value: b.accessories})
}

func (b *Bridge) Accessories() []*Accessory {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.accessories
}

// Character returns copy of characteristic metadata and cached value
func (b *Bridge) Character(id CharID) (Character, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	char, ok := b.chars[id]
	if !ok {
		return Character{}, false
	}
	return *char, true
}

func (b *Bridge) Ref(id CharID) (PropertyRef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ref, ok := b.refs[id]
	return ref, ok
}

// ReadCharacteristic returns live value from the state store. On store
// failure the last cached value is returned.
func (b *Bridge) ReadCharacteristic(ctx context.Context, id CharID) (any, error) {
	b.mu.RLock()
	char, ok := b.chars[id]
	ref, hasRef := b.refs[id]
	var cached any
	if ok {
		cached = char.Value
	}
	b.mu.RUnlock()

	if !ok {
		return nil, ErrResourceDoesNotExist
	}

	if !char.Readable() {
		return nil, ErrWriteOnly
	}

	if !hasRef || b.State == nil {
		return cached, nil
	}

	// store call without lock, it may block on I/O
	v, err := b.State.ReadValue(ctx, ref)
	if err != nil {
		b.Log.Warn().Err(err).Msgf("[hap] read %s %s, use cached value", id, ref)
		return cached, nil
	}

	if v, err = char.Validate(v); err != nil {
		b.Log.Warn().Err(err).Msgf("[hap] read %s %s, use cached value", id, ref)
		return cached, nil
	}

	b.mu.Lock()
	char.Value = v
	b.mu.Unlock()

	return v, nil
}

// WriteCharacteristic validates value locally and then calls the state store
func (b *Bridge) WriteCharacteristic(ctx context.Context, id CharID, value any) (any, error) {
	b.mu.RLock()
	char, ok := b.chars[id]
	ref, hasRef := b.refs[id]
	b.mu.RUnlock()

	if !ok {
		return nil, ErrResourceDoesNotExist
	}

	if !char.Writable() {
		return nil, ErrReadOnly
	}

	v, err := char.Validate(value)
	if err != nil {
		return nil, err
	}

	if hasRef && b.State != nil {
		if err = b.State.WriteValue(ctx, ref, v); err != nil {
			b.Log.Warn().Err(err).Msgf("[hap] write %s %s", id, ref)
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	} else {
		b.Log.Trace().Msgf("[hap] write local %s value=%v", id, v)
	}

	b.mu.Lock()
	if char.Readable() {
		char.Value = v
	}
	b.mu.Unlock()

	return v, nil
}

// Update caches value pushed from the state store and returns its address
func (b *Bridge) Update(ref PropertyRef, value any) (CharID, any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.index[ref]
	if !ok {
		return CharID{}, nil, false
	}

	char := b.chars[id]

	v, err := char.Validate(value)
	if err != nil {
		b.Log.Warn().Err(err).Msgf("[hap] update %s %s", id, ref)
		return CharID{}, nil, false
	}

	char.Value = v
	return id, v, true
}
