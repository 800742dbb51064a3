package setup

import (
	"crypto/sha512"
	"encoding/base64"
	"strconv"
	"strings"
)

const (
	FlagNFC = 1
	FlagIP  = 2
	FlagBLE = 4
	FlagWAC = 8 // Wireless Accessory Configuration (WAC)/Apples MFi
)

// GenerateSetupURI for QR code, X-HM://00XXXXXXXABCD
func GenerateSetupURI(category, pin, setupID string) string {
	c, _ := strconv.Atoi(category)
	p, _ := strconv.Atoi(strings.ReplaceAll(pin, "-", ""))
	payload := int64(c&0xFF)<<31 | int64(FlagIP&0xF)<<27 | int64(p&0x7FFFFFF)
	return "X-HM://" + FormatInt36(payload, 9) + setupID
}

// SetupHash for "sh" TXT record, first 4 bytes of SHA512 from setup ID and device ID
func SetupHash(setupID, deviceID string) string {
	hash := sha512.Sum512([]byte(setupID + deviceID))
	return base64.StdEncoding.EncodeToString(hash[:4])
}

// ValidPin checks XXX-XX-XXX format and rejects trivial codes
func ValidPin(pin string) bool {
	if len(pin) != 10 || pin[3] != '-' || pin[6] != '-' {
		return false
	}

	digits := strings.ReplaceAll(pin, "-", "")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}

	switch digits {
	case "00000000", "11111111", "22222222", "33333333", "44444444",
		"55555555", "66666666", "77777777", "88888888", "99999999",
		"12345678", "87654321":
		return false
	}
	return true
}

// FormatInt36 equal to strings.ToUpper(fmt.Sprintf("%0"+strconv.Itoa(n)+"s", strconv.FormatInt(value, 36)))
func FormatInt36(value int64, n int) string {
	b := make([]byte, n)
	for i := n - 1; 0 <= i; i-- {
		b[i] = digits[value%36]
		value /= 36
	}
	return string(b)
}

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
