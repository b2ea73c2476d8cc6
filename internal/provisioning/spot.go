package provisioning

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/util/retry"
)

const phaseSpot = "spot"

// AutoBid returns mean + 2·stddev of the price history. It returns false for
// an empty history.
func AutoBid(history []float64) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))

	var sq float64
	for _, v := range history {
		sq += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(sq / float64(len(history)))
	return mean + 2*stddev, true
}

type spotResult struct {
	// placed is false when no spot request was made and the whole request
	// has to go on-demand.
	placed    bool
	instances []*Instance
}

// provisionSpot places one spot request per instance and waits until they
// are fulfilled or SpotMaxWait passes. Open requests are then cancelled.
func (p *Provisioner) provisionSpot(ctx context.Context, req Request, image Image, opts CreateOptions) (spotResult, error) {
	backend, ok := p.backend.(SpotBackend)
	if !ok {
		LogWarning(p.observer, phaseSpot, fmt.Sprintf("%s has no spot capacity, provisioning on-demand", p.backend.Name()))
		return spotResult{}, nil
	}

	price, ok := p.bidPrice(ctx, backend, req)
	if !ok {
		return spotResult{}, nil
	}

	LogPhaseStart(p.observer, phaseSpot)
	start := time.Now()
	ids, err := backend.RequestSpot(ctx, req.Count, image, req.Flavor, price, opts)
	if err != nil {
		LogPhaseFailed(p.observer, phaseSpot, err)
		return spotResult{}, fault.Wrapf(fault.Provisioning, err, "failed to request %d spot instances", req.Count)
	}
	p.observer.Event(Event{
		Type:    EventProgress,
		Phase:   phaseSpot,
		Message: fmt.Sprintf("requested %d spot instances at %s", len(ids), strconv.FormatFloat(price, 'f', 4, 64)),
	})

	fulfilled := make(map[string]*Instance, len(ids))
	attempts := 1
	if p.settings.SpotPollInterval > 0 {
		attempts = max(1, int(p.settings.SpotMaxWait/p.settings.SpotPollInterval))
	}
	poller := retry.Poller{Interval: p.settings.SpotPollInterval, MaxAttempts: attempts}
	waitErr := p.prober.Until(ctx, poller, "spot requests to be fulfilled", func(ctx context.Context) (bool, error) {
		for _, id := range ids {
			if _, done := fulfilled[id]; done {
				continue
			}
			inst, err := backend.PollSpot(ctx, id)
			if err != nil {
				return false, err
			}
			if inst == nil {
				continue
			}
			inst.SpotRequestID = id
			inst.State = StateSpotPending
			if err := inst.Advance(StateFulfilled); err != nil {
				return false, retry.Fatal(err)
			}
			fulfilled[id] = inst
		}
		p.observer.Progress(phaseSpot, len(fulfilled), len(ids))
		return len(fulfilled) == len(ids), nil
	})

	var open []string
	insts := make([]*Instance, 0, len(fulfilled))
	for _, id := range ids {
		inst, ok := fulfilled[id]
		if !ok {
			open = append(open, id)
			continue
		}
		if err := inst.Advance(StatePending); err != nil {
			return spotResult{}, err
		}
		insts = append(insts, inst)
	}

	if waitErr != nil {
		LogWarning(p.observer, phaseSpot, fmt.Sprintf("%d of %d spot requests unfulfilled: %v", len(open), len(ids), waitErr))
		if len(open) > 0 {
			if err := backend.CancelSpot(ctx, open); err != nil {
				LogWarning(p.observer, phaseSpot, fmt.Sprintf("failed to cancel spot requests: %v", err))
			}
		}
	}
	LogPhaseComplete(p.observer, phaseSpot, time.Since(start))
	return spotResult{placed: true, instances: insts}, nil
}

// bidPrice resolves the bid of req. It reports false when the request has to
// be served on-demand.
func (p *Provisioner) bidPrice(ctx context.Context, backend SpotBackend, req Request) (float64, bool) {
	if req.Bid.Kind == BidFixed {
		return req.Bid.Price, true
	}

	since := p.now().Add(-p.settings.SpotHistoryWindow)
	history, err := backend.SpotPriceHistory(ctx, req.Flavor, since, p.settings.SpotHistoryMaxPages)
	if err != nil {
		LogWarning(p.observer, phaseSpot, fmt.Sprintf("spot price history unavailable, provisioning on-demand: %v", err))
		return 0, false
	}
	price, ok := AutoBid(history)
	if !ok {
		LogWarning(p.observer, phaseSpot, "no spot price history for "+req.Flavor+", provisioning on-demand")
		return 0, false
	}
	return price, true
}
