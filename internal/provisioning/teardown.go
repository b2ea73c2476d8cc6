package provisioning

import (
	"context"
	"fmt"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/util/async"
)

const phaseTeardown = "teardown"

// Outcome of a teardown call.
type Outcome int

const (
	// OutcomeDone means the vendor accepted the call.
	OutcomeDone Outcome = iota
	// OutcomeNotFound means the instance was already gone. It counts as
	// success.
	OutcomeNotFound
)

func (o Outcome) String() string {
	if o == OutcomeNotFound {
		return "not_found"
	}
	return "done"
}

// Terminate destroys the instance behind address.
func (p *Provisioner) Terminate(ctx context.Context, address string) (Outcome, error) {
	return p.teardown(ctx, "terminate", address, p.backend.Terminate, StateTerminated)
}

// Stop powers off the instance behind address without destroying it.
func (p *Provisioner) Stop(ctx context.Context, address string) (Outcome, error) {
	return p.teardown(ctx, "stop", address, p.backend.Stop, StateStopped)
}

func (p *Provisioner) teardown(ctx context.Context, action, address string, fn func(context.Context, *Instance) error, final State) (Outcome, error) {
	inst, err := p.backend.Lookup(ctx, address)
	if err == nil {
		LogResourceDeleting(p.observer, phaseTeardown, "instance", inst.String())
		err = fn(ctx, inst)
	}

	switch {
	case err == nil:
		inst.State = final
		LogResourceDeleted(p.observer, phaseTeardown, "instance", inst.String())
		p.recordTeardown(action, OutcomeDone.String())
		return OutcomeDone, nil
	case fault.IsNotFound(err):
		LogWarning(p.observer, phaseTeardown, fmt.Sprintf("no instance found for %s, nothing to %s", address, action))
		p.recordTeardown(action, OutcomeNotFound.String())
		return OutcomeNotFound, nil
	default:
		p.recordTeardown(action, "error")
		return OutcomeDone, fault.Wrapf(fault.KindOf(err), err, "failed to %s %s", action, address)
	}
}

func (p *Provisioner) recordTeardown(action, outcome string) {
	if p.metrics != nil {
		p.metrics.TeardownTotal.WithLabelValues(action, outcome).Inc()
	}
}

// TerminateAll terminates every address in parallel. The store is cleared
// only when every instance is gone.
func (p *Provisioner) TerminateAll(ctx context.Context, addrs []string, store AddressStore) error {
	LogPhaseStart(p.observer, phaseTeardown)
	tasks := make([]async.Task, len(addrs))
	for i, addr := range addrs {
		tasks[i] = async.Task{
			Name: addr,
			Func: func(ctx context.Context) error {
				_, err := p.Terminate(ctx, addr)
				return err
			},
		}
	}
	if err := async.RunParallel(ctx, tasks); err != nil {
		LogPhaseFailed(p.observer, phaseTeardown, err)
		return err
	}

	if store != nil {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("instances terminated but the address list was not cleared: %w", err)
		}
	}
	p.observer.Event(Event{
		Type:    EventPhaseCompleted,
		Phase:   phaseTeardown,
		Message: fmt.Sprintf("terminated %d instances", len(addrs)),
	})
	return nil
}

// StopAll stops every address in parallel. The address list is kept so a
// later TerminateAll can still find the instances.
func (p *Provisioner) StopAll(ctx context.Context, addrs []string) error {
	tasks := make([]async.Task, len(addrs))
	for i, addr := range addrs {
		tasks[i] = async.Task{
			Name: addr,
			Func: func(ctx context.Context) error {
				_, err := p.Stop(ctx, addr)
				return err
			},
		}
	}
	return async.RunParallel(ctx, tasks)
}
