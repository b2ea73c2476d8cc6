package handlers

import (
	"context"
	"errors"

	"github.com/imamik/fleetrun/internal/cluster"
	"github.com/imamik/fleetrun/internal/fault"
)

// Check prints every node of an established cluster and verifies that the
// orchestrator reaches every node and every node reaches every other node.
func Check(ctx context.Context, g Globals, configPath string) error {
	s, err := openSession(ctx, g, configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.load(ctx); err != nil {
		return err
	}
	if err := s.cluster.Print(stdout); err != nil {
		return err
	}

	var errs []error
	unreachable, err := s.cluster.CheckExternalConnectivity(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if unreachable > 0 {
		errs = append(errs, fault.New(fault.Transport, "%d nodes do not answer the orchestrator", unreachable))
	}

	failures, report := s.cluster.CheckNetwork(ctx)
	if err := cluster.PrintReport(stdout, report); err != nil {
		return err
	}
	errs = append(errs, report.Err())
	if failures > 0 {
		errs = append(errs, fault.New(fault.Transport, "%d node pairs cannot reach each other", failures))
	}
	return errors.Join(errs...)
}
