package config

import (
	"fmt"
	"net"
	"path"
	"strings"

	"github.com/imamik/fleetrun/internal/provisioning"
)

// ValidLocations contains all valid Hetzner Cloud datacenter locations.
// https://docs.hetzner.com/cloud/general/locations/
var ValidLocations = map[string]bool{
	"nbg1": true, // Nuremberg, Germany
	"fsn1": true, // Falkenstein, Germany
	"hel1": true, // Helsinki, Finland
	"ash":  true, // Ashburn, USA
	"hil":  true, // Hillsboro, USA
	"sin":  true, // Singapore
}

// Validate checks the configuration for common errors and returns a detailed error if validation fails.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch c.Backend {
	case BackendNone, BackendHCloud, BackendEC2:
	default:
		return fmt.Errorf("invalid backend %q: must be one of none, hcloud, ec2", c.Backend)
	}

	switch c.Escalation {
	case "login", "sudo":
	default:
		return fmt.Errorf("invalid escalation %q: must be login or sudo", c.Escalation)
	}

	if c.Backend == BackendHCloud && !ValidLocations[c.HCloud.Location] {
		return fmt.Errorf("invalid location %q", c.HCloud.Location)
	}

	if err := c.validateProvision(); err != nil {
		return fmt.Errorf("provision validation failed: %w", err)
	}

	if err := c.validateNodes(); err != nil {
		return fmt.Errorf("node validation failed: %w", err)
	}

	if err := c.validateArtifacts(); err != nil {
		return fmt.Errorf("artifact validation failed: %w", err)
	}

	if c.Backend == BackendNone && len(c.Nodes) == 0 {
		return fmt.Errorf("a cluster without a backend needs at least one node")
	}
	return nil
}

func (c *Config) validateProvision() error {
	p := c.Provision
	if p.Count == 0 {
		return nil
	}
	if c.Backend == BackendNone {
		return fmt.Errorf("provision.count is set but no backend is configured")
	}
	if p.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", p.Count)
	}
	if p.Image == "" {
		return fmt.Errorf("image is required")
	}
	if p.Flavor == "" {
		return fmt.Errorf("flavor is required")
	}
	if _, err := provisioning.ParseBid(p.SpotBid); err != nil {
		return err
	}
	if p.SpotBid != "" && p.SpotBid != "none" && c.Backend != BackendEC2 {
		return fmt.Errorf("spot bids are only supported on ec2")
	}
	switch p.SpotFallback {
	case "", "on-demand", "none":
	default:
		return fmt.Errorf("invalid spot_fallback %q: must be on-demand or none", p.SpotFallback)
	}
	return nil
}

func (c *Config) validateNodes() error {
	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Address == "" {
			return fmt.Errorf("node %d: address is required", i)
		}
		if seen[n.Address] {
			return fmt.Errorf("duplicate node address %s", n.Address)
		}
		seen[n.Address] = true
		if n.User == "" {
			return fmt.Errorf("node %s: user is required", n.Address)
		}
		if ip := net.ParseIP(n.Address); ip == nil && strings.ContainsAny(n.Address, " /") {
			return fmt.Errorf("node %s: invalid address", n.Address)
		}
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	for i, a := range c.Artifacts {
		if a.Source == "" || a.Destination == "" {
			return fmt.Errorf("artifact %d: source and destination are required", i)
		}
		if !path.IsAbs(a.Destination) {
			return fmt.Errorf("artifact %d: destination %q must be absolute", i, a.Destination)
		}
		if strings.HasPrefix(a.Source, "s3://") && !strings.Contains(strings.TrimPrefix(a.Source, "s3://"), "/") {
			return fmt.Errorf("artifact %d: %q must have the form s3://bucket/key", i, a.Source)
		}
	}
	return nil
}
