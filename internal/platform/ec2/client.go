package ec2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/go-logr/logr"

	"github.com/imamik/fleetrun/internal/config"
	"github.com/imamik/fleetrun/internal/provisioning"
)

// ClusterTag is set on every resource the backend creates.
const ClusterTag = "fleetrun.io/cluster"

// API is the subset of the EC2 API the backend calls. *ec2.Client
// implements it.
type API interface {
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	AllocateAddress(ctx context.Context, params *ec2.AllocateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error)
	AssociateAddress(ctx context.Context, params *ec2.AssociateAddressInput, optFns ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
	ReleaseAddress(ctx context.Context, params *ec2.ReleaseAddressInput, optFns ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
	RequestSpotInstances(ctx context.Context, params *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error)
	DescribeSpotInstanceRequests(ctx context.Context, params *ec2.DescribeSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error)
	CancelSpotInstanceRequests(ctx context.Context, params *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
}

// Client implements provisioning.SpotBackend on top of the EC2 API.
type Client struct {
	api      API
	timeouts *config.Timeouts
	log      logr.Logger
	now      func() time.Time

	cluster     string
	imageOwners []string

	// addrMu serializes elastic address selection.
	addrMu sync.Mutex

	spotMu sync.Mutex
	// spotNames maps open spot request ids to the instance name they were
	// placed for.
	spotNames map[string]string
}

var (
	_ provisioning.SpotBackend        = (*Client)(nil)
	_ provisioning.ExternalIPReleaser = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPI replaces the EC2 API client (useful for testing).
func WithAPI(api API) ClientOption {
	return func(c *Client) {
		c.api = api
	}
}

// WithTimeouts sets custom timeouts for the client.
func WithTimeouts(t *config.Timeouts) ClientOption {
	return func(c *Client) {
		c.timeouts = t
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithClock sets the time source used for Name tags.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithImageOwners restricts ListImages to images of the given owners.
func WithImageOwners(owners ...string) ClientOption {
	return func(c *Client) {
		c.imageOwners = owners
	}
}

// Endpoint describes where and as whom the backend talks to EC2.
// Empty keys fall back to the SDK's default credential chain, an empty URL
// to the regional AWS endpoint.
type Endpoint struct {
	Region    string
	URL       string
	AccessKey string
	SecretKey string
}

// NewClient creates a backend for the named cluster.
func NewClient(ctx context.Context, ep Endpoint, cluster string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		timeouts:    config.LoadTimeouts(),
		log:         logr.Discard(),
		now:         time.Now,
		cluster:     cluster,
		imageOwners: []string{"self"},
		spotNames:   map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api != nil {
		return c, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(ep.Region)}
	if ep.AccessKey != "" && ep.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ep.AccessKey, ep.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	c.api = ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		if ep.URL != "" {
			o.BaseEndpoint = aws.String(ep.URL)
		}
	})
	return c, nil
}

// Name implements provisioning.Backend.
func (c *Client) Name() string {
	return "ec2"
}
