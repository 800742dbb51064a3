package hap

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	FormatString = "string"
	FormatBool   = "bool"
	FormatFloat  = "float"
	FormatUInt8  = "uint8"
	FormatUInt16 = "uint16"
	FormatUInt32 = "uint32"
	FormatInt    = "int"
	FormatUInt64 = "uint64"
	FormatData   = "data"
	FormatTLV8   = "tlv8"

	UnitCelsius    = "celsius"
	UnitPercentage = "percentage"
	UnitArcDegrees = "arcdegrees"
	UnitLux        = "lux"
	UnitSeconds    = "seconds"
)

const (
	PermPairedRead  = "pr"
	PermPairedWrite = "pw"
	PermEvents      = "ev"
	PermHidden      = "hd"
)

var PR = []string{"pr"}
var PW = []string{"pw"}
var PRPW = []string{"pr", "pw"}
var EVPRPW = []string{"ev", "pr", "pw"}
var EVPR = []string{"ev", "pr"}

const (
	ServiceTypeAccessoryInformation   = "3E"
	ServiceTypeHAPProtocolInformation = "A2"
)

// BridgeAID is the bridge accessory itself
const BridgeAID = 1

// appleBase is the suffix of all predefined HAP types
const appleBase = "-0000-1000-8000-0026BB765291"

var ErrInvalidType = errors.New("hap: invalid type")

type Accessory struct {
	AID      uint64     `json:"aid"`
	Services []*Service `json:"services"`
}

// InitIID numbers services and characteristics with iids from allocator.
// Accessory Information service always goes first, so on the first call
// it gets iid 1 and the rest is sequential. Later calls keep known iids.
func (a *Accessory) InitIID(iids *IDAllocator) {
	for i, service := range a.Services {
		if service.Type == ServiceTypeAccessoryInformation && i > 0 {
			copy(a.Services[1:i+1], a.Services[:i])
			a.Services[0] = service
			break
		}
	}

	for _, service := range a.Services {
		serviceKey := service.key
		if serviceKey == "" {
			serviceKey = "#" + service.Type
		}
		service.IID = iids.ID(serviceKey)

		for _, character := range service.Characters {
			charKey := character.key
			if charKey == "" {
				charKey = serviceKey + "/#" + character.Type
			}
			character.IID = iids.ID(charKey)
		}
	}
}

func (a *Accessory) GetService(servType string) *Service {
	for _, serv := range a.Services {
		if serv.Type == servType {
			return serv
		}
	}
	return nil
}

func (a *Accessory) GetCharacter(charType string) *Character {
	for _, serv := range a.Services {
		for _, char := range serv.Characters {
			if char.Type == charType {
				return char
			}
		}
	}
	return nil
}

func (a *Accessory) GetCharacterByID(iid uint64) *Character {
	for _, serv := range a.Services {
		for _, char := range serv.Characters {
			if char.IID == iid {
				return char
			}
		}
	}
	return nil
}

type Service struct {
	Type       string       `json:"type"`
	IID        uint64       `json:"iid"`
	Primary    bool         `json:"primary,omitempty"`
	Hidden     bool         `json:"hidden,omitempty"`
	Characters []*Character `json:"characteristics"`
	Linked     []uint64     `json:"linked,omitempty"`

	key string // stable iid key of channel
}

func (s *Service) GetCharacter(charType string) *Character {
	for _, char := range s.Characters {
		if char.Type == charType {
			return char
		}
	}
	return nil
}

func ServiceAccessoryInformation(manuf, model, name, serial, firmware string) *Service {
	return &Service{
		Type: ServiceTypeAccessoryInformation,
		Characters: []*Character{
			{
				Type:   "14",
				Format: FormatBool,
				Perms:  PW,
				//Descr:  "Identify",
			}, {
				Type:   "20",
				Format: FormatString,
				Value:  manuf,
				Perms:  PR,
				MaxLen: 64,
				//Descr:  "Manufacturer",
			}, {
				Type:   "21",
				Format: FormatString,
				Value:  model,
				Perms:  PR,
				MaxLen: 64,
				//Descr:  "Model",
			}, {
				Type:   "23",
				Format: FormatString,
				Value:  name,
				Perms:  PR,
				MaxLen: 64,
				//Descr:  "Name",
			}, {
				Type:   "30",
				Format: FormatString,
				Value:  serial,
				Perms:  PR,
				MaxLen: 64,
				//Descr:  "Serial Number",
			}, {
				Type:   "52",
				Format: FormatString,
				Value:  firmware,
				Perms:  PR,
				//Descr:  "Firmware Revision",
			},
		},
	}
}

func ServiceHAPProtocolInformation() *Service {
	return &Service{
		Type: ServiceTypeHAPProtocolInformation,
		Characters: []*Character{
			{
				Type:   "37",
				Format: FormatString,
				Value:  "1.1.0",
				Perms:  PR,
				MaxLen: 64,
				//Descr:  "Version",
			},
		},
	}
}

// NormalizeType returns short form for Apple defined types ("0000003E-0000-1000-8000-0026BB765291" => "3E")
// and upper case UUID for custom types
func NormalizeType(s string) (string, error) {
	if s == "" {
		return "", ErrInvalidType
	}

	if len(s) <= 8 {
		if _, err := strconv.ParseUint(s, 16, 32); err != nil {
			return "", ErrInvalidType
		}
		s = strings.TrimLeft(strings.ToUpper(s), "0")
		if s == "" {
			return "", ErrInvalidType
		}
		return s, nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidType
	}

	s = strings.ToUpper(u.String())
	if prefix, ok := strings.CutSuffix(s, appleBase); ok {
		return NormalizeType(prefix)
	}

	return s, nil
}
