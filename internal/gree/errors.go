package gree

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error (unreachable, refused, etc.)
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates the device did not answer in time
	ErrTypeTimeout
	// ErrTypeProtocol indicates a malformed or unexpected packet
	ErrTypeProtocol
	// ErrTypeCrypto indicates a pack that could not be decrypted
	ErrTypeCrypto
	// ErrTypeBind indicates the device refused or ignored the bind request
	ErrTypeBind
	// ErrTypeUnknown indicates an unknown or unexpected error
	ErrTypeUnknown
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeProtocol:
		return "Protocol Error"
	case ErrTypeCrypto:
		return "Crypto Error"
	case ErrTypeBind:
		return "Bind Error"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// DeviceError represents an error that occurred talking to a device
type DeviceError struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Err       error     // Underlying error (if any)
	DeviceIP  string    // Device IP address (for context)
	Retryable bool      // Whether a later attempt may succeed
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	prefix := e.Type.String()
	if e.DeviceIP != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.DeviceIP)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError maps a socket error onto a DeviceError
func ClassifyNetworkError(err error, deviceIP string) *DeviceError {
	if err == nil {
		return nil
	}

	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &DeviceError{
			Type:      ErrTypeTimeout,
			Message:   "Device did not respond in time",
			Err:       err,
			DeviceIP:  deviceIP,
			Retryable: true,
		}
	}

	if errors.Is(err, context.Canceled) {
		return &DeviceError{
			Type:     ErrTypeUnknown,
			Message:  "Request cancelled",
			Err:      err,
			DeviceIP: deviceIP,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			// ICMP port unreachable on a connected UDP socket
			return &DeviceError{
				Type:      ErrTypeNetwork,
				Message:   "Nothing listening on the device port",
				Err:       err,
				DeviceIP:  deviceIP,
				Retryable: true,
			}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &DeviceError{
				Type:      ErrTypeNetwork,
				Message:   "Host unreachable",
				Err:       err,
				DeviceIP:  deviceIP,
				Retryable: true,
			}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &DeviceError{
				Type:      ErrTypeNetwork,
				Message:   "Network unreachable",
				Err:       err,
				DeviceIP:  deviceIP,
				Retryable: true,
			}
		}
	}

	return &DeviceError{
		Type:      ErrTypeNetwork,
		Message:   "Network error occurred",
		Err:       err,
		DeviceIP:  deviceIP,
		Retryable: true,
	}
}

// NewProtocolError creates a malformed-packet error
func NewProtocolError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeProtocol,
		Message: message,
		Err:     err,
	}
}

// NewCryptoError creates a decryption error
func NewCryptoError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeCrypto,
		Message: message,
		Err:     err,
	}
}

// NewBindError creates a bind failure
func NewBindError(deviceIP string, message string, err error) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeBind,
		Message:   message,
		Err:       err,
		DeviceIP:  deviceIP,
		Retryable: true,
	}
}

// IsNetworkError checks if an error is a network error (including timeout)
func IsNetworkError(err error) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Type == ErrTypeNetwork || devErr.Type == ErrTypeTimeout
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}
