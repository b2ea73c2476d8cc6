package testing

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/imamik/fleetrun/internal/provisioning"
)

// MockBackend is a mock implementation of provisioning.Backend that also
// registers keys and releases external addresses.
type MockBackend struct {
	mock.Mock
}

var (
	_ provisioning.Backend            = (*MockBackend)(nil)
	_ provisioning.KeyRegistrar       = (*MockBackend)(nil)
	_ provisioning.ExternalIPReleaser = (*MockBackend)(nil)
)

// Name returns "mock".
func (m *MockBackend) Name() string {
	return "mock"
}

// ListImages returns the mocked image list.
func (m *MockBackend) ListImages(ctx context.Context) ([]provisioning.Image, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provisioning.Image), args.Error(1)
}

// CreateInstances returns the mocked instances.
func (m *MockBackend) CreateInstances(ctx context.Context, n int, image provisioning.Image, flavor string, opts provisioning.CreateOptions) ([]*provisioning.Instance, error) {
	args := m.Called(ctx, n, image, flavor, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*provisioning.Instance), args.Error(1)
}

// PollState returns the mocked state.
func (m *MockBackend) PollState(ctx context.Context, inst *provisioning.Instance) (provisioning.State, error) {
	args := m.Called(ctx, inst)
	return args.Get(0).(provisioning.State), args.Error(1)
}

// AssociateExternalIP returns the mocked address.
func (m *MockBackend) AssociateExternalIP(ctx context.Context, inst *provisioning.Instance) (string, error) {
	args := m.Called(ctx, inst)
	return args.String(0), args.Error(1)
}

// Lookup returns the mocked instance.
func (m *MockBackend) Lookup(ctx context.Context, address string) (*provisioning.Instance, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provisioning.Instance), args.Error(1)
}

// Terminate records the call.
func (m *MockBackend) Terminate(ctx context.Context, inst *provisioning.Instance) error {
	return m.Called(ctx, inst).Error(0)
}

// Stop records the call.
func (m *MockBackend) Stop(ctx context.Context, inst *provisioning.Instance) error {
	return m.Called(ctx, inst).Error(0)
}

// RegisterKey records the call.
func (m *MockBackend) RegisterKey(ctx context.Context, name, publicKey string) error {
	return m.Called(ctx, name, publicKey).Error(0)
}

// UnregisterKey records the call.
func (m *MockBackend) UnregisterKey(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

// ReleaseExternalIPs returns the mocked count.
func (m *MockBackend) ReleaseExternalIPs(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
