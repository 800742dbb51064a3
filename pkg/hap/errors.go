package hap

import (
	"errors"
	"strconv"

	"github.com/fastybird/hapbridge/pkg/hap/secure"
)

// TLVError is the value of the Error item in pairing responses
type TLVError byte

const (
	TLVErrorUnknown        TLVError = 1
	TLVErrorAuthentication TLVError = 2
	TLVErrorBackoff        TLVError = 3
	TLVErrorMaxPeers       TLVError = 4
	TLVErrorMaxTries       TLVError = 5
	TLVErrorUnavailable    TLVError = 6
	TLVErrorBusy           TLVError = 7
)

func (e TLVError) Error() string {
	// https://github.com/apple/HomeKitADK/blob/fb201f98f5fdc7fef6a455054f08b59cca5d1ec8/HAP/HAPPairing.h#L89
	switch e {
	case TLVErrorUnknown:
		return "hap: generic error to handle unexpected errors"
	case TLVErrorAuthentication:
		return "hap: setup code or signature verification failed"
	case TLVErrorBackoff:
		return "hap: client must look at the retry delay and wait before retrying"
	case TLVErrorMaxPeers:
		return "hap: server cannot accept any more pairings"
	case TLVErrorMaxTries:
		return "hap: server reached its maximum number of authentication attempts"
	case TLVErrorUnavailable:
		return "hap: server pairing method is unavailable"
	case TLVErrorBusy:
		return "hap: server is busy and cannot accept a pairing request at this time"
	}
	return "hap: unknown pairing error " + strconv.Itoa(int(e))
}

// Status is HAP status code of characteristic operation
type Status int

const (
	StatusSuccess                     Status = 0
	StatusInsufficientPrivileges      Status = -70401
	StatusServiceCommunicationFailure Status = -70402
	StatusResourceBusy                Status = -70403
	StatusReadOnly                    Status = -70404
	StatusWriteOnly                   Status = -70405
	StatusNotificationNotSupported    Status = -70406
	StatusOutOfResources              Status = -70407
	StatusOperationTimedOut           Status = -70408
	StatusResourceDoesNotExist        Status = -70409
	StatusInvalidValue                Status = -70410
	StatusInsufficientAuthorization   Status = -70411
)

func (s Status) Error() string {
	switch s {
	case StatusSuccess:
		return "hap: success"
	case StatusInsufficientPrivileges:
		return "hap: insufficient privileges"
	case StatusServiceCommunicationFailure:
		return "hap: service unavailable"
	case StatusResourceBusy:
		return "hap: resource is busy"
	case StatusReadOnly:
		return "hap: characteristic is read only"
	case StatusWriteOnly:
		return "hap: characteristic is write only"
	case StatusNotificationNotSupported:
		return "hap: notification is not supported"
	case StatusOutOfResources:
		return "hap: out of resources"
	case StatusOperationTimedOut:
		return "hap: operation timed out"
	case StatusResourceDoesNotExist:
		return "hap: resource does not exist"
	case StatusInvalidValue:
		return "hap: invalid value in request"
	case StatusInsufficientAuthorization:
		return "hap: insufficient authorization"
	}
	return "hap: status " + strconv.Itoa(int(s))
}

var (
	ErrResourceDoesNotExist     error = StatusResourceDoesNotExist
	ErrInvalidValue             error = StatusInvalidValue
	ErrReadOnly                 error = StatusReadOnly
	ErrWriteOnly                error = StatusWriteOnly
	ErrNotificationNotSupported error = StatusNotificationNotSupported
	ErrServiceUnavailable       error = StatusServiceCommunicationFailure

	ErrSessionCompromised = secure.ErrSessionCompromised
)

// StatusOf returns HAP status for the error of read or write operation
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var status Status
	if errors.As(err, &status) {
		return status
	}
	return StatusServiceCommunicationFailure
}
