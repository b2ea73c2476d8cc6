package provisioning

import (
	"context"
	"time"
)

// Image is a bootable machine image.
type Image struct {
	ID   string
	Name string
}

// CreateOptions carries the per-request settings a backend applies to new
// instances.
type CreateOptions struct {
	// Names holds one vendor-side name per instance.
	Names          []string
	KeyName        string
	SecurityGroups []string
	Subnet         string
	// ClientToken makes the create call idempotent where the vendor
	// supports it.
	ClientToken string
}

// Backend is the vendor binding the provisioner drives.
//
// Lookup returns an error of kind fault.NotFound when no instance carries
// the address.
type Backend interface {
	Name() string
	ListImages(ctx context.Context) ([]Image, error)
	CreateInstances(ctx context.Context, n int, image Image, flavor string, opts CreateOptions) ([]*Instance, error)
	// PollState returns the vendor state of inst and refreshes its
	// addresses.
	PollState(ctx context.Context, inst *Instance) (State, error)
	AssociateExternalIP(ctx context.Context, inst *Instance) (string, error)
	Lookup(ctx context.Context, address string) (*Instance, error)
	Terminate(ctx context.Context, inst *Instance) error
	Stop(ctx context.Context, inst *Instance) error
}

// SpotBackend is implemented by backends that sell spare capacity.
type SpotBackend interface {
	Backend
	// RequestSpot places one spot request per instance and returns the
	// request ids.
	RequestSpot(ctx context.Context, n int, image Image, flavor string, price float64, opts CreateOptions) ([]string, error)
	// PollSpot returns the instance of a fulfilled request, or nil while
	// the request is still open.
	PollSpot(ctx context.Context, requestID string) (*Instance, error)
	CancelSpot(ctx context.Context, requestIDs []string) error
	// SpotPriceHistory returns trailing prices for flavor since the given
	// time, reading at most maxPages pages.
	SpotPriceHistory(ctx context.Context, flavor string, since time.Time, maxPages int) ([]float64, error)
}

// ExternalIPReleaser is implemented by backends that keep a pool of
// external addresses across requests. ReleaseExternalIPs returns how many
// addresses were given back to the vendor.
type ExternalIPReleaser interface {
	ReleaseExternalIPs(ctx context.Context) (int, error)
}

// KeyRegistrar is implemented by backends that must hold the
// orchestrator's public key under a name before instances can be created
// with it.
type KeyRegistrar interface {
	RegisterKey(ctx context.Context, name, publicKey string) error
	UnregisterKey(ctx context.Context, name string) error
}

// AddressStore persists provisioned addresses across restarts.
type AddressStore interface {
	Clear() error
}
