package hcloud

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/provisioning"
)

// ClusterLabel is set on every resource the backend creates.
const ClusterLabel = "fleetrun.io/cluster"

// Client implements provisioning.Backend using the Hetzner Cloud API.
type Client struct {
	client   *hcloud.Client
	timeouts *config.Timeouts
	log      logr.Logger

	cluster  string
	location string
	network  string

	// poolMu serializes floating IP selection so two servers never pick
	// the same free address.
	poolMu sync.Mutex
}

var (
	_ provisioning.Backend            = (*Client)(nil)
	_ provisioning.ExternalIPReleaser = (*Client)(nil)
	_ provisioning.KeyRegistrar       = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeouts sets custom timeouts for the client.
func WithTimeouts(t *config.Timeouts) ClientOption {
	return func(c *Client) {
		c.timeouts = t
	}
}

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(hc *hcloud.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithLocation sets the location servers and floating IPs are created in.
func WithLocation(location string) ClientOption {
	return func(c *Client) {
		c.location = location
	}
}

// WithNetwork attaches new servers to the named private network. Their
// internal address is then the private one.
func WithNetwork(name string) ClientOption {
	return func(c *Client) {
		c.network = name
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a backend for the named cluster.
func NewClient(token, cluster string, opts ...ClientOption) *Client {
	c := &Client{
		client:   hcloud.NewClient(hcloud.WithToken(token), hcloud.WithApplication("fleetrun", "")),
		timeouts: config.LoadTimeouts(),
		log:      logr.Discard(),
		cluster:  cluster,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements provisioning.Backend.
func (c *Client) Name() string {
	return "hcloud"
}

// HCloudClient returns the underlying hcloud.Client for advanced operations.
func (c *Client) HCloudClient() *hcloud.Client {
	return c.client
}

func (c *Client) labels() map[string]string {
	return map[string]string{ClusterLabel: c.cluster}
}

func (c *Client) labelSelector() string {
	return ClusterLabel + "=" + c.cluster
}
