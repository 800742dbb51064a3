package hap

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/fastybird/hapbridge/pkg/hap/ed25519"
	"github.com/tadglines/go-pkgs/crypto/srp"
)

const (
	TXTConfigNumber = "c#" // Current configuration number (ex. 1, 2, 3)
	TXTDeviceID     = "id" // Device ID of the accessory (ex. 77:75:87:A0:7D:F4)
	TXTModel        = "md" // Model name of the accessory (ex. MJCTD02YL)
	TXTProtoVersion = "pv" // Protocol version string (ex. 1.1)
	TXTStateNumber  = "s#" // Current state number (ex. 1)
	TXTCategory     = "ci" // Accessory Category Identifier (ex. 2, 5, 17)
	TXTSetupHash    = "sh" // Setup hash (ex. Y9w9hQ==)

	// TXTFeatureFlags
	//  - 0001b - Supports Apple Authentication Coprocessor
	//  - 0010b - Supports Software Authentication
	TXTFeatureFlags = "ff" // Pairing Feature flags (ex. 0, 1, 2)

	// TXTStatusFlags
	//  - 0001b - Accessory has not been paired with any controllers
	//  - 0100b - A problem has been detected on the accessory
	TXTStatusFlags = "sf" // Status flags (ex. 0, 1)

	StatusPaired    = "0"
	StatusNotPaired = "1"

	StateM1 = 1
	StateM2 = 2
	StateM3 = 3
	StateM4 = 4
	StateM5 = 5
	StateM6 = 6

	MethodPair          = 0
	MethodPairMFi       = 1 // if device has MFI cert
	MethodVerifyPair    = 2
	MethodAddPairing    = 3
	MethodDeletePairing = 4
	MethodListPairings  = 5
)

const (
	PermissionUser  = 0
	PermissionAdmin = 1
)

// TLV item types of pairing messages
const (
	TypeMethod        = 0
	TypeIdentifier    = 1
	TypeSalt          = 2
	TypePublicKey     = 3
	TypeProof         = 4
	TypeEncryptedData = 5
	TypeState         = 6
	TypeError         = 7
	TypeRetryDelay    = 8
	TypeCertificate   = 9
	TypeSignature     = 10
	TypePermissions   = 11
	TypeFlags         = 19
	TypeSeparator     = 0xFF
)

// Accessory categories for the "ci" TXT record
const (
	CategoryOther              = 1
	CategoryBridge             = 2
	CategoryFan                = 3
	CategoryGarageDoorOpener   = 4
	CategoryLightbulb          = 5
	CategoryDoorLock           = 6
	CategoryOutlet             = 7
	CategorySwitch             = 8
	CategoryThermostat         = 9
	CategorySensor             = 10
	CategorySecuritySystem     = 11
	CategoryDoor               = 12
	CategoryWindow             = 13
	CategoryWindowCovering     = 14
	CategoryProgrammableSwitch = 15
	CategoryIPCamera           = 17
	CategoryVideoDoorbell      = 18
	CategoryAirPurifier        = 19
	CategoryHeater             = 20
	CategoryAirConditioner     = 21
	CategoryHumidifier         = 22
	CategoryDehumidifier       = 23
	CategorySprinkler          = 28
	CategoryFaucet             = 29
	CategoryShowerSystem       = 30
	CategoryTelevision         = 31
	CategoryRemote             = 32
)

const SetupUsername = "Pair-Setup"

func GenerateKey() []byte {
	return ed25519.GenerateKey()
}

func GenerateID(name string) string {
	sum := sha512.Sum512([]byte(name))
	return fmt.Sprintf(
		"%02X:%02X:%02X:%02X:%02X:%02X",
		sum[0], sum[1], sum[2], sum[3], sum[4], sum[5],
	)
}

func GenerateUUID() string {
	//12345678-9012-3456-7890-123456789012
	data := make([]byte, 16)
	_, _ = rand.Read(data)
	s := hex.EncodeToString(data)
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:]
}

func Append(items ...any) (b []byte) {
	for _, item := range items {
		switch v := item.(type) {
		case string:
			b = append(b, v...)
		case []byte:
			b = append(b, v[:]...)
		default:
			panic(v)
		}
	}
	return
}

func NewResponseError(req, res any) error {
	return fmt.Errorf("hap: wrong response: %#v, on request: %#v", res, req)
}

// NewSRP returns Stanford Secure Remote Password (SRP) / Password
// Authenticated Key Exchange (PAKE) with HAP params for both sides
func NewSRP() (*srp.SRP, error) {
	pake, err := srp.NewSRP(
		"rfc5054.3072", sha512.New, keyDerivativeFuncRFC2945([]byte(SetupUsername)),
	)
	if err != nil {
		return nil, err
	}

	pake.SaltLength = 16
	return pake, nil
}

func keyDerivativeFuncRFC2945(username []byte) srp.KeyDerivationFunc {
	return func(salt, password []byte) []byte {
		h1 := sha512.New()
		h1.Write(username)
		h1.Write([]byte(":"))
		h1.Write(password)

		h2 := sha512.New()
		h2.Write(salt)
		h2.Write(h1.Sum(nil))

		return h2.Sum(nil)
	}
}
