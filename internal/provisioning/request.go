package provisioning

import (
	"strconv"
	"strings"

	"github.com/imamik/fleetrun/internal/fault"
)

// BidKind selects how a spot price is chosen.
type BidKind int

const (
	// BidNone provisions on-demand.
	BidNone BidKind = iota
	// BidFixed bids a configured price.
	BidFixed
	// BidAuto bids mean + 2 standard deviations of the price history.
	BidAuto
)

// BidPolicy is the spot bid of a request.
type BidPolicy struct {
	Kind  BidKind
	Price float64
}

// ParseBid reads "", "none", "auto" or a fixed price such as "0.05".
func ParseBid(s string) (BidPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BidPolicy{}, nil
	case "auto":
		return BidPolicy{Kind: BidAuto}, nil
	}
	price, err := strconv.ParseFloat(s, 64)
	if err != nil || price <= 0 {
		return BidPolicy{}, fault.New(fault.Configuration, "invalid spot bid %q: want none, auto or a positive price", s)
	}
	return BidPolicy{Kind: BidFixed, Price: price}, nil
}

// SpotFallback decides what happens when spot capacity is not granted in
// time.
type SpotFallback int

const (
	// FallbackOnDemand provisions the missing instances on-demand.
	FallbackOnDemand SpotFallback = iota
	// FallbackNone returns whatever the spot requests produced.
	FallbackNone
)

// Request describes the instances to provision.
type Request struct {
	Count int
	// Image is an image id or name.
	Image          string
	Flavor         string
	Bid            BidPolicy
	Fallback       SpotFallback
	SecurityGroups []string
	Subnet         string
	// AssociateExternalIP gives every instance an address reachable from
	// the orchestrator.
	AssociateExternalIP bool
	// NameSuffix is appended to every instance name.
	NameSuffix string
	KeyName    string
	// User overrides the login user derived from the image name.
	User string
}

// Validate checks the request before any vendor call.
func (r Request) Validate() error {
	if r.Count < 1 {
		return fault.New(fault.Configuration, "instance count must be at least 1, got %d", r.Count)
	}
	if r.Image == "" {
		return fault.New(fault.Configuration, "image is required")
	}
	if r.Flavor == "" {
		return fault.New(fault.Configuration, "flavor is required")
	}
	if r.Bid.Kind == BidFixed && r.Bid.Price <= 0 {
		return fault.New(fault.Configuration, "fixed spot bid must be positive")
	}
	return nil
}

// LoginUser returns the default login user of a cloud image, judged by its
// name.
func LoginUser(imageName string) string {
	name := strings.ToLower(imageName)
	switch {
	case strings.Contains(name, "ubuntu"):
		return "ubuntu"
	case strings.Contains(name, "debian"):
		return "debian"
	case strings.Contains(name, "fedora"):
		return "fedora"
	case strings.Contains(name, "centos"):
		return "centos"
	case strings.Contains(name, "rhel7"):
		return "cloud-user"
	default:
		return "ec2-user"
	}
}
