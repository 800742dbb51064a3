package hap

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/fastybird/hapbridge/pkg/hap/tlv8"
)

const (
	MimeTLV8 = "application/pairing+tlv8"
	MimeJSON = "application/hap+json"

	PathPairSetup       = "/pair-setup"
	PathPairVerify      = "/pair-verify"
	PathPairings        = "/pairings"
	PathAccessories     = "/accessories"
	PathCharacteristics = "/characteristics"
	PathIdentify        = "/identify"
)

// StatusConnectionAuthorizationRequired is used for protected paths before pair-verify
const StatusConnectionAuthorizationRequired = 470

type JSONAccessories struct {
	Value []*Accessory `json:"accessories"`
}

type JSONCharacters struct {
	Value []JSONCharacter `json:"characteristics"`
}

type JSONCharacter struct {
	AID   uint64 `json:"aid"`
	IID   uint64 `json:"iid"`
	Value any    `json:"value,omitempty"`
	Event *bool  `json:"ev,omitempty"`

	Status *Status `json:"status,omitempty"`

	// meta=1, perms=1, type=1 of GET request
	Type        string    `json:"type,omitempty"`
	Perms       []string  `json:"perms,omitempty"`
	Format      string    `json:"format,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	MinValue    *float64  `json:"minValue,omitempty"`
	MaxValue    *float64  `json:"maxValue,omitempty"`
	MinStep     *float64  `json:"minStep,omitempty"`
	MaxLen      int       `json:"maxLen,omitempty"`
	ValidValues []float64 `json:"valid-values,omitempty"`
}

type JSONStatus struct {
	Status Status `json:"status"`
}

func makeResponse(statusCode int, mime string, v any) (*http.Response, error) {
	var body []byte
	var err error

	switch v := v.(type) {
	case nil:
	case []byte:
		body = v
	default:
		switch mime {
		case MimeJSON:
			body, err = json.Marshal(v)
		case MimeTLV8:
			body, err = tlv8.Marshal(v)
		}
	}

	if err != nil {
		return nil, err
	}

	res := &http.Response{
		StatusCode: statusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
	}

	if statusCode != http.StatusNoContent {
		res.Header.Set("Content-Type", mime)
		res.Header.Set("Content-Length", strconv.Itoa(len(body)))
		res.ContentLength = int64(len(body))
		res.Body = io.NopCloser(bytes.NewReader(body))
	}

	return res, nil
}

// tlvResponse with single State and optional Error item
func tlvResponse(state byte, items ...tlv8.Item) (*http.Response, error) {
	items = append([]tlv8.Item{{Type: TypeState, Value: []byte{state}}}, items...)
	return makeResponse(http.StatusOK, MimeTLV8, tlv8.Encode(items...))
}

func tlvError(state byte, code TLVError) (*http.Response, error) {
	return tlvResponse(state, tlv8.Item{Type: TypeError, Value: []byte{byte(code)}})
}

// marshalResponse renders whole response, so it can be written with one call
func marshalResponse(res *http.Response) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalEvent with raw HTTP headers
func MarshalEvent(chars []JSONCharacter) (data []byte, err error) {
	if data, err = json.Marshal(JSONCharacters{Value: chars}); err != nil {
		return
	}

	res := http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{"Content-Type": []string{MimeJSON}},
		ContentLength: int64(len(data)),
		Body:          io.NopCloser(bytes.NewReader(data)),
	}

	buf := bytes.NewBuffer([]byte{0})
	if err = res.Write(buf); err != nil {
		return
	}
	// "\x00HTTP/1.0 200 OK" => "EVENT/1.0 200 OK"
	copy(buf.Bytes(), "EVENT")

	return buf.Bytes(), err
}
