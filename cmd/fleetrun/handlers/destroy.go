package handlers

import (
	"context"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
)

// DestroyOptions select what Destroy tears down.
type DestroyOptions struct {
	// FromList reads addresses from this file instead of the instance log.
	FromList string
	// Stop powers the instances off and keeps the instance log.
	Stop bool
}

// Destroy terminates every instance recorded in the instance log.
//
// Teardown is idempotent: addresses without an instance count as done. The
// instance log is cleared only when every instance is gone. External
// addresses and the registered key are released afterwards.
func Destroy(ctx context.Context, g Globals, configPath string, opts DestroyOptions) error {
	s, err := openSession(ctx, g, configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.provisioner()
	if err != nil {
		return err
	}
	list := s.cluster.InstanceLog
	if opts.FromList != "" {
		list = cluster.InstanceLog(opts.FromList)
	}
	addrs, err := list.Read()
	if err != nil && (opts.FromList != "" || !fault.IsNotFound(err)) {
		return err
	}

	if opts.Stop {
		if err := p.StopAll(ctx, addrs); err != nil {
			return err
		}
		s.log.Info("stopped instances", "count", len(addrs))
		return nil
	}

	if len(addrs) == 0 {
		s.log.Info("no instances recorded", "list", list.Path())
	} else if err := p.TerminateAll(ctx, addrs, list); err != nil {
		return err
	}

	if releaser, ok := s.backend.(provisioning.ExternalIPReleaser); ok {
		released, err := releaser.ReleaseExternalIPs(ctx)
		if err != nil {
			return err
		}
		s.log.Info("released external addresses", "count", released)
	}
	if reg, ok := s.backend.(provisioning.KeyRegistrar); ok && s.cfg.Key.Name != "" {
		if err := reg.UnregisterKey(ctx, s.cfg.Key.Name); err != nil {
			return err
		}
	}
	s.log.Info("cluster destroyed", "instances", len(addrs))
	return nil
}
