package hcloud

import (
	"context"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/fleetrun/internal/util/retry"
)

// named fetches one kind of cluster resource by its name.
type named[E any] struct {
	kind string
	get  func(ctx context.Context, name string) (*E, *hcloud.Response, error)
}

// remove deletes the resource called name. An absent resource counts as
// removed, so teardown can be repeated. Locked resources are retried with
// backoff until the delete timeout.
func (r named[E]) remove(ctx context.Context, c *Client, name string, del func(context.Context, *E) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	return retry.WithExponentialBackoff(ctx, func() error {
		res, _, err := r.get(ctx, name)
		if err != nil {
			return retry.Fatal(fmt.Errorf("failed to get %s %s: %w", r.kind, name, classify(err)))
		}
		if res == nil {
			return nil
		}
		if err := del(ctx, res); err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(fmt.Errorf("failed to delete %s %s: %w", r.kind, name, classify(err)))
		}
		c.log.V(1).Info("deleted", "kind", r.kind, "name", name)
		return nil
	},
		retry.WithMaxRetries(c.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay))
}

// ensure returns the resource called name, creating it when absent and
// waiting for the actions the create started. check, when set, rejects an
// existing resource that does not match what the cluster needs.
func (r named[E]) ensure(
	ctx context.Context,
	c *Client,
	name string,
	create func(context.Context) (*E, []*hcloud.Action, error),
	check func(*E) error,
) (*E, error) {
	res, _, err := r.get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", r.kind, name, classify(err))
	}
	if res != nil {
		if check != nil {
			if err := check(res); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	res, actions, err := create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", r.kind, name, classify(err))
	}
	if len(actions) > 0 {
		if err := c.client.Action.WaitFor(ctx, actions...); err != nil {
			return nil, fmt.Errorf("failed to wait for %s %s: %w", r.kind, name, classify(err))
		}
	}
	c.log.V(1).Info("created", "kind", r.kind, "name", name)
	return res, nil
}

// actions drops the nil action some create calls return.
func actions(as ...*hcloud.Action) []*hcloud.Action {
	out := make([]*hcloud.Action, 0, len(as))
	for _, a := range as {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}
