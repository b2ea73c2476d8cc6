package ec2

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/imamik/fleetrun/internal/fault"
)

var transientCodes = map[string]bool{
	"RequestLimitExceeded":         true,
	"InsufficientInstanceCapacity": true,
	"InsufficientAddressCapacity":  true,
	"Unavailable":                  true,
	"ServiceUnavailable":           true,
	"InternalError":                true,
}

var configurationCodes = map[string]bool{
	"AuthFailure":           true,
	"UnauthorizedOperation": true,
	"OptInRequired":         true,
	"Blocked":               true,
}

// errorCode returns the API error code of err, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isNotFound reports whether err names a missing instance, spot request or
// address. EC2 codes these as "<Resource>.NotFound".
func isNotFound(err error) bool {
	return strings.HasSuffix(errorCode(err), ".NotFound")
}

// classify attaches a fault.Kind to an EC2 error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	code := errorCode(err)
	switch {
	case code == "":
		return fault.Wrap(fault.Transport, err)
	case strings.HasSuffix(code, ".NotFound"):
		return fault.Wrap(fault.NotFound, err)
	case transientCodes[code]:
		return fault.Wrap(fault.Transport, err)
	case configurationCodes[code]:
		return fault.Wrap(fault.Configuration, err)
	default:
		return fault.Wrap(fault.Provisioning, err)
	}
}
