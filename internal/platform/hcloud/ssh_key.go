package hcloud

import (
	"context"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/fault"
)

// EnsureSSHKey registers publicKey under name unless a key of that name
// exists. An existing key with different material is an error.
func (c *Client) EnsureSSHKey(ctx context.Context, name, publicKey string) (*hcloud.SSHKey, error) {
	keys := named[hcloud.SSHKey]{kind: "ssh key", get: c.client.SSHKey.Get}
	return keys.ensure(ctx, c, name, func(ctx context.Context) (*hcloud.SSHKey, []*hcloud.Action, error) {
		key, _, err := c.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
			Name:      name,
			PublicKey: publicKey,
			Labels:    c.labels(),
		})
		return key, nil, err
	}, func(key *hcloud.SSHKey) error {
		if strings.TrimSpace(key.PublicKey) != strings.TrimSpace(publicKey) {
			return fault.New(fault.Configuration, "ssh key %s exists with a different public key", name)
		}
		return nil
	})
}

// DeleteSSHKey deletes the SSH key with the given name.
func (c *Client) DeleteSSHKey(ctx context.Context, name string) error {
	keys := named[hcloud.SSHKey]{kind: "ssh key", get: c.client.SSHKey.Get}
	return keys.remove(ctx, c, name, func(ctx context.Context, key *hcloud.SSHKey) error {
		_, err := c.client.SSHKey.Delete(ctx, key)
		return err
	})
}

// RegisterKey implements provisioning.KeyRegistrar.
func (c *Client) RegisterKey(ctx context.Context, name, publicKey string) error {
	_, err := c.EnsureSSHKey(ctx, name, publicKey)
	return err
}

// UnregisterKey implements provisioning.KeyRegistrar.
func (c *Client) UnregisterKey(ctx context.Context, name string) error {
	return c.DeleteSSHKey(ctx, name)
}
