package provisioning_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// fakeBackend is an in-memory vendor. Every instance walks through the
// states queued for it; the last state repeats.
type fakeBackend struct {
	mu sync.Mutex

	images    []provisioning.Image
	states    []provisioning.State
	stateFor  map[string][]provisioning.State
	createErr error
	assocErr  map[string]error
	tearErr   map[string]error

	nextID    int
	created   []*provisioning.Instance
	createOps []provisioning.CreateOptions
	polls     map[string]int
	byAddr    map[string]*provisioning.Instance
	torn      []string
}

var _ provisioning.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		images: []provisioning.Image{
			{ID: "img-1", Name: "ubuntu-24.04"},
			{ID: "img-2", Name: "fedora-40"},
		},
		states:   []provisioning.State{provisioning.StatePending, provisioning.StateActive},
		stateFor: map[string][]provisioning.State{},
		assocErr: map[string]error{},
		tearErr:  map[string]error{},
		polls:    map[string]int{},
		byAddr:   map[string]*provisioning.Instance{},
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) ListImages(context.Context) ([]provisioning.Image, error) {
	return b.images, nil
}

func (b *fakeBackend) newInstance(name string) *provisioning.Instance {
	b.nextID++
	inst := &provisioning.Instance{
		ID:      fmt.Sprintf("i-%d", b.nextID),
		Name:    name,
		Address: fmt.Sprintf("10.0.0.%d", b.nextID),
	}
	b.byAddr[inst.Address] = inst
	return inst
}

func (b *fakeBackend) CreateInstances(_ context.Context, n int, _ provisioning.Image, _ string, opts provisioning.CreateOptions) ([]*provisioning.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createOps = append(b.createOps, opts)
	if b.createErr != nil {
		return nil, b.createErr
	}
	insts := make([]*provisioning.Instance, n)
	for i := range n {
		insts[i] = b.newInstance(opts.Names[i])
		b.created = append(b.created, insts[i])
	}
	return insts, nil
}

func (b *fakeBackend) PollState(_ context.Context, inst *provisioning.Instance) (provisioning.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq, ok := b.stateFor[inst.ID]
	if !ok {
		seq = b.states
	}
	i := min(b.polls[inst.ID], len(seq)-1)
	b.polls[inst.ID]++
	return seq[i], nil
}

func (b *fakeBackend) pollCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls[id]
}

func (b *fakeBackend) AssociateExternalIP(_ context.Context, inst *provisioning.Instance) (string, error) {
	if err := b.assocErr[inst.ID]; err != nil {
		return "", err
	}
	return "203.0.113." + inst.ID[2:], nil
}

func (b *fakeBackend) Lookup(_ context.Context, address string) (*provisioning.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.byAddr[address]
	if !ok {
		return nil, fault.New(fault.NotFound, "no instance with address %s", address)
	}
	return inst, nil
}

func (b *fakeBackend) Terminate(_ context.Context, inst *provisioning.Instance) error {
	return b.tear(inst)
}

func (b *fakeBackend) Stop(_ context.Context, inst *provisioning.Instance) error {
	return b.tear(inst)
}

func (b *fakeBackend) tear(inst *provisioning.Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.tearErr[inst.ID]; err != nil {
		return err
	}
	b.torn = append(b.torn, inst.ID)
	delete(b.byAddr, inst.Address)
	return nil
}

// fakeSpotBackend adds spot capacity. A request is fulfilled after the
// number of polls given in fulfillAfter; a negative value never fulfills.
type fakeSpotBackend struct {
	*fakeBackend

	history      []float64
	historyErr   error
	fulfillAfter []int

	requests  []string
	bid       float64
	spotPolls map[string]int
	cancelled []string
}

var _ provisioning.SpotBackend = (*fakeSpotBackend)(nil)

func newFakeSpotBackend(fulfillAfter ...int) *fakeSpotBackend {
	return &fakeSpotBackend{
		fakeBackend:  newFakeBackend(),
		fulfillAfter: fulfillAfter,
		spotPolls:    map[string]int{},
	}
}

func (b *fakeSpotBackend) RequestSpot(_ context.Context, n int, _ provisioning.Image, _ string, price float64, _ provisioning.CreateOptions) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bid = price
	ids := make([]string, n)
	for i := range n {
		ids[i] = fmt.Sprintf("sir-%d", i)
	}
	b.requests = ids
	return ids, nil
}

func (b *fakeSpotBackend) PollSpot(_ context.Context, requestID string) (*provisioning.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var idx int
	_, _ = fmt.Sscanf(requestID, "sir-%d", &idx)
	after := b.fulfillAfter[idx]
	b.spotPolls[requestID]++
	if after < 0 || b.spotPolls[requestID] <= after {
		return nil, nil
	}
	return b.newInstance("spot-" + requestID), nil
}

func (b *fakeSpotBackend) CancelSpot(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, ids...)
	return nil
}

func (b *fakeSpotBackend) SpotPriceHistory(context.Context, string, time.Time, int) ([]float64, error) {
	return b.history, b.historyErr
}

type fakeStore struct {
	cleared bool
	err     error
}

func (s *fakeStore) Clear() error {
	if s.err != nil {
		return s.err
	}
	s.cleared = true
	return nil
}

// recordingObserver keeps every event.
type recordingObserver struct {
	mu     sync.Mutex
	events []provisioning.Event
}

func (o *recordingObserver) Event(e provisioning.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) Progress(phase string, current, total int) {
	o.Event(provisioning.Event{Type: provisioning.EventProgress, Phase: phase, Message: fmt.Sprintf("%d/%d", current, total)})
}

func (o *recordingObserver) WithFields(map[string]string) provisioning.Observer { return o }

func (o *recordingObserver) ofType(t provisioning.EventType) []provisioning.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []provisioning.Event
	for _, e := range o.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func fastSettings() provisioning.Settings {
	s := provisioning.DefaultSettings()
	s.PollInterval = time.Millisecond
	s.MaxPollAttempts = 5
	s.SpotPollInterval = time.Millisecond
	s.SpotMaxWait = 5 * time.Millisecond
	s.IPSettle = time.Millisecond
	s.SSH = retry.Poller{Interval: time.Millisecond, MaxAttempts: 2}
	s.RebootWait = time.Millisecond
	return s
}
