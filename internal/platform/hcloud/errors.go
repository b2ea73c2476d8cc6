package hcloud

import (
	"errors"
	"slices"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/fault"
)

// isResourceLocked reports a transient conflict: another action holds the
// resource. Deletes and creates retry on it.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// isInvalidParameter reports a request the API will never accept, such as
// an unknown server type. Server creation stops retrying on it.
func isInvalidParameter(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeNotFound,
		hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeInvalidServerType,
	)
}

func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	var apiErr hcloud.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return slices.Contains(codes, apiErr.Code)
}

// IsNotFound reports an API not_found error.
func IsNotFound(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeNotFound)
}

// IsRateLimited reports an API rate_limit_exceeded error.
func IsRateLimited(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeRateLimitExceeded)
}

// classify attaches a fault kind to an API error.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return fault.Wrap(fault.NotFound, err)
	case IsRateLimited(err), isResourceLocked(err),
		isHCloudErrorCode(err, hcloud.ErrorCodeTimeout, hcloud.ErrorCodeServiceError, hcloud.ErrorCodeMaintenance):
		return fault.Wrap(fault.Transport, err)
	default:
		var hcloudErr hcloud.Error
		if errors.As(err, &hcloudErr) {
			return fault.Wrap(fault.Provisioning, err)
		}
		return fault.Wrap(fault.Transport, err)
	}
}
