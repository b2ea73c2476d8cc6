package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/metrics"
	"github.com/imamik/fleetrun/internal/probe"
	"github.com/imamik/fleetrun/internal/util/async"
	"github.com/imamik/fleetrun/internal/util/naming"
	"github.com/imamik/fleetrun/internal/util/retry"
)

const phaseProvision = "provision"

// Settings bounds every wait of the provisioner.
type Settings struct {
	PollInterval    time.Duration
	MaxPollAttempts int

	SpotPollInterval    time.Duration
	SpotMaxWait         time.Duration
	SpotHistoryWindow   time.Duration
	SpotHistoryMaxPages int

	// IPSettle is waited once after external addresses were associated.
	IPSettle time.Duration

	SSH          retry.Poller
	Connectivity retry.Poller
	// RebootWait is waited after rebooting nodes during hostname
	// normalization.
	RebootWait time.Duration
}

// DefaultSettings returns the bounds used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:        10 * time.Second,
		MaxPollAttempts:     30,
		SpotPollInterval:    10 * time.Second,
		SpotMaxWait:         10 * time.Minute,
		SpotHistoryWindow:   24 * time.Hour,
		SpotHistoryMaxPages: 10,
		IPSettle:            60 * time.Second,
		SSH:                 probe.DefaultSSH,
		Connectivity:        probe.DefaultConnectivity,
		RebootWait:          180 * time.Second,
	}
}

// Provisioner runs instances of one backend through their lifecycle.
type Provisioner struct {
	backend  Backend
	settings Settings
	observer Observer
	prober   *probe.Prober
	metrics  *metrics.Metrics
	hosts    *naming.Sequence
	prefix   string
	now      func() time.Time
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithSettings replaces the default bounds.
func WithSettings(s Settings) Option {
	return func(p *Provisioner) { p.settings = s }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(p *Provisioner) { p.observer = o }
}

// WithMetrics sets the collectors instance outcomes are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithProber sets the prober used for all bounded waits.
func WithProber(pr *probe.Prober) Option {
	return func(p *Provisioner) { p.prober = pr }
}

// WithHostSequence shares the cluster's host numbering.
func WithHostSequence(seq *naming.Sequence, prefix string) Option {
	return func(p *Provisioner) {
		p.hosts = seq
		p.prefix = prefix
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// New creates a provisioner for backend.
func New(backend Backend, opts ...Option) *Provisioner {
	p := &Provisioner{
		backend:  backend,
		settings: DefaultSettings(),
		observer: NewLogObserver(logr.Discard()),
		hosts:    naming.NewSequence(0),
		prefix:   naming.DefaultHostPrefix,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prober == nil {
		p.prober = probe.New(logr.Discard(), p.metrics)
	}
	p.observer = p.observer.WithFields(map[string]string{"backend": backend.Name()})
	return p
}

// Backend returns the vendor binding.
func (p *Provisioner) Backend() Backend {
	return p.backend
}

// Result splits the instances of a request into those that became Active
// and those abandoned on the way.
type Result struct {
	Ready  []*Instance
	Failed []*Instance
}

// Provision creates req.Count instances and waits for each to become
// Active. A missing image or a rejected create call fails the whole
// request. Instances that do not become Active in time are returned in
// Result.Failed.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	LogPhaseStart(p.observer, phaseProvision)
	start := time.Now()

	image, err := p.resolveImage(ctx, req.Image)
	if err != nil {
		LogPhaseFailed(p.observer, phaseProvision, err)
		return Result{}, err
	}
	user := req.User
	if user == "" {
		user = LoginUser(image.Name)
	}

	insts, err := p.create(ctx, req, image)
	if err != nil {
		LogPhaseFailed(p.observer, phaseProvision, err)
		return Result{}, err
	}
	for _, inst := range insts {
		inst.User = user
		inst.Image = image.Name
	}

	res := p.waitActive(ctx, insts)
	if req.AssociateExternalIP && len(res.Ready) > 0 {
		res = p.associate(ctx, res)
	}

	for _, inst := range res.Ready {
		p.recordInstance(inst)
	}
	for _, inst := range res.Failed {
		p.recordInstance(inst)
	}
	LogPhaseComplete(p.observer, phaseProvision, time.Since(start))
	p.observer.Progress(phaseProvision, len(res.Ready), req.Count)
	return res, nil
}

func (p *Provisioner) resolveImage(ctx context.Context, ref string) (Image, error) {
	images, err := p.backend.ListImages(ctx)
	if err != nil {
		return Image{}, fault.Wrapf(fault.Provisioning, err, "failed to list images")
	}
	for _, img := range images {
		if img.ID == ref {
			return img, nil
		}
	}
	for _, img := range images {
		if img.Name == ref {
			return img, nil
		}
	}
	return Image{}, fault.New(fault.Provisioning, "image %s not found on %s", ref, p.backend.Name())
}

// create returns Pending instances, through spot requests when the request
// carries a bid.
func (p *Provisioner) create(ctx context.Context, req Request, image Image) ([]*Instance, error) {
	opts := p.createOptions(req, req.Count)

	var insts []*Instance
	if req.Bid.Kind != BidNone {
		spot, err := p.provisionSpot(ctx, req, image, opts)
		if err != nil {
			return nil, err
		}
		insts = spot.instances
		if spot.placed && (len(insts) == req.Count || req.Fallback == FallbackNone) {
			return insts, nil
		}
		if len(insts) > 0 {
			LogWarning(p.observer, phaseProvision, fmt.Sprintf("provisioning remaining %d instances on-demand", req.Count-len(insts)))
		}
		opts.Names = opts.Names[len(insts):]
		opts.ClientToken = uuid.NewString()
	}

	missing := req.Count - len(insts)
	for _, name := range opts.Names {
		LogResourceCreating(p.observer, phaseProvision, "instance", name)
	}
	created, err := p.backend.CreateInstances(ctx, missing, image, req.Flavor, opts)
	if err != nil {
		return nil, fault.Wrapf(fault.Provisioning, err, "failed to create %d instances", missing)
	}
	for _, inst := range created {
		if err := inst.Advance(StatePending); err != nil {
			return nil, err
		}
		LogResourceCreated(p.observer, phaseProvision, "instance", inst.Name, inst.ID)
	}
	return append(insts, created...), nil
}

func (p *Provisioner) createOptions(req Request, n int) CreateOptions {
	names := make([]string, n)
	for i := range names {
		names[i] = naming.Instance(p.prefix, p.hosts.Next(), req.NameSuffix)
	}
	return CreateOptions{
		Names:          names,
		KeyName:        req.KeyName,
		SecurityGroups: req.SecurityGroups,
		Subnet:         req.Subnet,
		ClientToken:    uuid.NewString(),
	}
}

// waitActive polls every instance in parallel until it is Active or its
// bound is exhausted.
func (p *Provisioner) waitActive(ctx context.Context, insts []*Instance) Result {
	poller := retry.Poller{Interval: p.settings.PollInterval, MaxAttempts: p.settings.MaxPollAttempts}
	tasks := make([]async.Task, len(insts))
	for i, inst := range insts {
		tasks[i] = async.Task{
			Name: inst.ID,
			Func: func(ctx context.Context) error {
				return p.prober.Until(ctx, poller, "instance "+inst.ID+" to become active", func(ctx context.Context) (bool, error) {
					state, err := p.backend.PollState(ctx, inst)
					if err != nil {
						return false, err
					}
					switch state {
					case StateActive:
						return true, inst.Advance(StateActive)
					case StateTerminated, StateStopped, StateFailed:
						return false, retry.Fatal(fault.New(fault.Provisioning, "instance %s is %s", inst.ID, state))
					default:
						return false, nil
					}
				})
			},
		}
	}

	var res Result
	for i, r := range async.RunAll(ctx, tasks) {
		inst := insts[i]
		if r.Err != nil {
			inst.Fail(r.Err.Error())
			LogResourceFailed(p.observer, phaseProvision, inst.String(), r.Err.Error())
			res.Failed = append(res.Failed, inst)
			continue
		}
		res.Ready = append(res.Ready, inst)
	}
	return res
}

// associate gives every ready instance an external address and then waits
// once for the network to settle. Instances that cannot get an address are
// moved to Failed.
func (p *Provisioner) associate(ctx context.Context, res Result) Result {
	var ready []*Instance
	for _, inst := range res.Ready {
		addr, err := p.backend.AssociateExternalIP(ctx, inst)
		if err != nil {
			inst.Fail(fmt.Sprintf("failed to associate external address: %v", err))
			LogResourceFailed(p.observer, phaseProvision, inst.String(), inst.FailReason)
			res.Failed = append(res.Failed, inst)
			continue
		}
		inst.ExternalAddress = addr
		ready = append(ready, inst)
	}
	res.Ready = ready

	if len(ready) > 0 && p.settings.IPSettle > 0 {
		p.observer.Event(Event{
			Type:    EventProgress,
			Phase:   phaseProvision,
			Message: fmt.Sprintf("waiting %s for external networking", p.settings.IPSettle),
		})
		if err := sleep(ctx, p.settings.IPSettle); err != nil {
			LogWarning(p.observer, phaseProvision, "network settle wait interrupted")
		}
	}
	return res
}

func (p *Provisioner) recordInstance(inst *Instance) {
	if p.metrics != nil {
		p.metrics.InstancesTotal.WithLabelValues(p.backend.Name(), inst.State.String()).Inc()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
