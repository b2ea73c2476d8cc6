package hcloud

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/naming"
)

// AssociateExternalIP implements provisioning.Backend. A server with a
// public IPv4 keeps it. Otherwise an unassigned floating IP of the cluster
// pool is reused, or a new one allocated, and assigned to the server.
func (c *Client) AssociateExternalIP(ctx context.Context, inst *provisioning.Instance) (string, error) {
	server, err := c.serverByID(ctx, inst.ID)
	if err != nil {
		return "", err
	}
	if server == nil {
		return "", fault.New(fault.NotFound, "server %s not found", inst.ID)
	}
	if ip := ServerIPv4(server); ip != "" {
		return ip, nil
	}

	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	fips, err := c.pool(ctx)
	if err != nil {
		return "", err
	}
	var fip *hcloud.FloatingIP
	for _, candidate := range fips {
		if candidate.Server == nil {
			fip = candidate
			break
		}
	}
	if fip == nil {
		fip, err = c.allocateFloatingIP(ctx, naming.FloatingIP(c.cluster, len(fips)+1))
		if err != nil {
			return "", err
		}
	}

	action, _, err := c.client.FloatingIP.Assign(ctx, fip, server)
	if err != nil {
		return "", fmt.Errorf("failed to assign floating IP %s: %w", fip.IP, classify(err))
	}
	if err := c.client.Action.WaitFor(ctx, action); err != nil {
		return "", fmt.Errorf("failed to wait for floating IP assignment: %w", classify(err))
	}
	c.log.V(1).Info("floating IP assigned", "ip", fip.IP.String(), "server", server.Name)
	return fip.IP.String(), nil
}

// pool lists the floating IPs of the cluster.
func (c *Client) pool(ctx context.Context) ([]*hcloud.FloatingIP, error) {
	fips, err := c.client.FloatingIP.AllWithOpts(ctx, hcloud.FloatingIPListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: c.labelSelector()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list floating IPs: %w", classify(err))
	}
	return fips, nil
}

func (c *Client) allocateFloatingIP(ctx context.Context, name string) (*hcloud.FloatingIP, error) {
	fips := named[hcloud.FloatingIP]{kind: "floating IP", get: c.client.FloatingIP.Get}
	return fips.ensure(ctx, c, name, func(ctx context.Context) (*hcloud.FloatingIP, []*hcloud.Action, error) {
		res, _, err := c.client.FloatingIP.Create(ctx, hcloud.FloatingIPCreateOpts{
			Name:         hcloud.Ptr(name),
			Type:         hcloud.FloatingIPTypeIPv4,
			HomeLocation: &hcloud.Location{Name: c.location},
			Labels:       c.labels(),
		})
		return res.FloatingIP, actions(res.Action), err
	}, nil)
}

// ReleaseExternalIPs implements provisioning.ExternalIPReleaser. Every
// floating IP of the cluster pool is deleted.
func (c *Client) ReleaseExternalIPs(ctx context.Context) (int, error) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()

	fips, err := c.pool(ctx)
	if err != nil {
		return 0, err
	}
	kind := named[hcloud.FloatingIP]{kind: "floating IP", get: c.client.FloatingIP.Get}
	for i, fip := range fips {
		err := kind.remove(ctx, c, fip.Name, func(ctx context.Context, fip *hcloud.FloatingIP) error {
			_, err := c.client.FloatingIP.Delete(ctx, fip)
			return err
		})
		if err != nil {
			return i, err
		}
	}
	return len(fips), nil
}
