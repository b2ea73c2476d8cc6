package hcloud

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// CreateInstances implements provisioning.Backend. One server is created
// per name in opts. A failure aborts the remaining creations and returns
// the error; servers created so far carry the cluster label and are found
// again by Lookup.
func (c *Client) CreateInstances(ctx context.Context, n int, image provisioning.Image, flavor string, opts provisioning.CreateOptions) ([]*provisioning.Instance, error) {
	if len(opts.Names) < n {
		return nil, fault.New(fault.Configuration, "%d names for %d servers", len(opts.Names), n)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.ServerCreate)
	defer cancel()

	createOpts, err := c.buildServerCreateOpts(ctx, image, flavor, opts)
	if err != nil {
		return nil, err
	}

	insts := make([]*provisioning.Instance, 0, n)
	for _, name := range opts.Names[:n] {
		o := createOpts
		o.Name = name
		result, err := c.createServerWithRetry(ctx, o)
		if err != nil {
			return nil, classify(err)
		}
		inst := c.instance(result.Server)
		inst.State = provisioning.StatePending
		c.log.V(1).Info("server created", "name", name, "id", inst.ID)
		insts = append(insts, inst)
	}
	return insts, nil
}

// buildServerCreateOpts resolves all dependencies and builds server creation options.
func (c *Client) buildServerCreateOpts(ctx context.Context, image provisioning.Image, flavor string, opts provisioning.CreateOptions) (hcloud.ServerCreateOpts, error) {
	serverType, _, err := c.client.ServerType.Get(ctx, flavor)
	if err != nil {
		return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get server type: %w", classify(err))
	}
	if serverType == nil {
		return hcloud.ServerCreateOpts{}, fault.New(fault.Provisioning, "server type not found: %s", flavor)
	}

	imageID, err := strconv.ParseInt(image.ID, 10, 64)
	if err != nil {
		return hcloud.ServerCreateOpts{}, fault.New(fault.Provisioning, "invalid image id: %s", image.ID)
	}

	var sshKeys []*hcloud.SSHKey
	if opts.KeyName != "" {
		key, _, err := c.client.SSHKey.Get(ctx, opts.KeyName)
		if err != nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get ssh key %s: %w", opts.KeyName, classify(err))
		}
		if key == nil {
			return hcloud.ServerCreateOpts{}, fault.New(fault.Configuration, "ssh key not found: %s", opts.KeyName)
		}
		sshKeys = append(sshKeys, key)
	}

	var location *hcloud.Location
	if c.location != "" {
		location, _, err = c.client.Location.Get(ctx, c.location)
		if err != nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get location %s: %w", c.location, classify(err))
		}
		if location == nil {
			return hcloud.ServerCreateOpts{}, fault.New(fault.Configuration, "location not found: %s", c.location)
		}
	}

	labels := c.labels()
	if opts.ClientToken != "" {
		labels["fleetrun.io/request"] = opts.ClientToken
	}

	createOpts := hcloud.ServerCreateOpts{
		ServerType: serverType,
		Image:      &hcloud.Image{ID: imageID},
		SSHKeys:    sshKeys,
		Labels:     labels,
		Location:   location,
	}

	if c.network != "" {
		network, _, err := c.client.Network.Get(ctx, c.network)
		if err != nil {
			return hcloud.ServerCreateOpts{}, fmt.Errorf("failed to get network %s: %w", c.network, classify(err))
		}
		if network == nil {
			return hcloud.ServerCreateOpts{}, fault.New(fault.Configuration, "network not found: %s", c.network)
		}
		createOpts.Networks = []*hcloud.Network{network}
		createOpts.PublicNet = &hcloud.ServerCreatePublicNet{EnableIPv4: false, EnableIPv6: false}
	}
	return createOpts, nil
}

// createServerWithRetry creates a server with exponential backoff retry logic.
func (c *Client) createServerWithRetry(ctx context.Context, opts hcloud.ServerCreateOpts) (hcloud.ServerCreateResult, error) {
	var result hcloud.ServerCreateResult

	err := retry.WithExponentialBackoff(ctx, func() error {
		res, _, err := c.client.Server.Create(ctx, opts)
		if err != nil {
			if isInvalidParameter(err) {
				return retry.Fatal(err)
			}
			return err
		}
		result = res
		return nil
	}, retry.WithMaxRetries(c.timeouts.RetryMaxAttempts), retry.WithInitialDelay(c.timeouts.RetryInitialDelay))

	if err != nil {
		return result, fmt.Errorf("failed to create server %s: %w", opts.Name, err)
	}
	return result, nil
}

// PollState implements provisioning.Backend. Addresses are refreshed once
// the server runs.
func (c *Client) PollState(ctx context.Context, inst *provisioning.Instance) (provisioning.State, error) {
	server, err := c.serverByID(ctx, inst.ID)
	if err != nil {
		return inst.State, err
	}
	if server == nil {
		return provisioning.StateTerminated, nil
	}

	state := serverState(server.Status)
	if state == provisioning.StateActive {
		fresh := c.instance(server)
		inst.Address = fresh.Address
		if fresh.ExternalAddress != "" {
			inst.ExternalAddress = fresh.ExternalAddress
		}
	}
	return state, nil
}

func serverState(status hcloud.ServerStatus) provisioning.State {
	switch status {
	case hcloud.ServerStatusRunning:
		return provisioning.StateActive
	case hcloud.ServerStatusOff, hcloud.ServerStatusStopping:
		return provisioning.StateStopped
	case hcloud.ServerStatusDeleting:
		return provisioning.StateTerminated
	default:
		return provisioning.StatePending
	}
}

// Lookup implements provisioning.Backend. address may be a server's
// private, public or floating address.
func (c *Client) Lookup(ctx context.Context, address string) (*provisioning.Instance, error) {
	servers, err := c.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: c.labelSelector()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", classify(err))
	}
	for _, s := range servers {
		inst := c.instance(s)
		if inst.Address == address || inst.ExternalAddress == address || ServerIPv4(s) == address {
			return inst, nil
		}
	}

	fips, err := c.pool(ctx)
	if err != nil {
		return nil, err
	}
	for _, fip := range fips {
		if fip.IP.String() != address || fip.Server == nil {
			continue
		}
		for _, s := range servers {
			if s.ID == fip.Server.ID {
				inst := c.instance(s)
				inst.ExternalAddress = address
				return inst, nil
			}
		}
	}
	return nil, fault.New(fault.NotFound, "no server of cluster %s has address %s", c.cluster, address)
}

// Terminate implements provisioning.Backend.
func (c *Client) Terminate(ctx context.Context, inst *provisioning.Instance) error {
	server, err := c.serverByID(ctx, inst.ID)
	if err != nil {
		return err
	}
	if server == nil {
		return fault.New(fault.NotFound, "server %s not found", inst.ID)
	}
	servers := named[hcloud.Server]{kind: "server", get: c.client.Server.Get}
	return servers.remove(ctx, c, server.Name, func(ctx context.Context, server *hcloud.Server) error {
		result, _, err := c.client.Server.DeleteWithResult(ctx, server)
		if err != nil {
			return err
		}
		return c.client.Action.WaitFor(ctx, result.Action)
	})
}

// Stop implements provisioning.Backend by powering the server off.
func (c *Client) Stop(ctx context.Context, inst *provisioning.Instance) error {
	server, err := c.serverByID(ctx, inst.ID)
	if err != nil {
		return err
	}
	if server == nil {
		return fault.New(fault.NotFound, "server %s not found", inst.ID)
	}

	action, _, err := c.client.Server.Poweroff(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to poweroff server: %w", classify(err))
	}
	if err := c.client.Action.WaitFor(ctx, action); err != nil {
		return fmt.Errorf("failed to wait for poweroff: %w", classify(err))
	}
	return nil
}

func (c *Client) serverByID(ctx context.Context, id string) (*hcloud.Server, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fault.New(fault.Configuration, "invalid server id: %s", id)
	}
	server, _, err := c.client.Server.GetByID(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", id, classify(err))
	}
	return server, nil
}

// instance converts a server. The internal address is the first private
// address when the server is on a network, its public IPv4 otherwise.
func (c *Client) instance(s *hcloud.Server) *provisioning.Instance {
	inst := &provisioning.Instance{
		ID:   strconv.FormatInt(s.ID, 10),
		Name: s.Name,
	}
	if s.Image != nil {
		inst.Image = s.Image.Name
	}
	public := ServerIPv4(s)
	if len(s.PrivateNet) > 0 && s.PrivateNet[0].IP != nil {
		inst.Address = s.PrivateNet[0].IP.String()
		inst.ExternalAddress = public
	} else {
		inst.Address = public
	}
	inst.State = serverState(s.Status)
	return inst
}

// ServerIPv4 extracts the public IPv4 address from a server, or empty string if not set.
func ServerIPv4(s *hcloud.Server) string {
	if s != nil && s.PublicNet.IPv4.IP != nil && !s.PublicNet.IPv4.IP.IsUnspecified() {
		return s.PublicNet.IPv4.IP.String()
	}
	return ""
}
