package ec2

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/naming"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// ListImages implements provisioning.Backend.
func (c *Client) ListImages(ctx context.Context) ([]provisioning.Image, error) {
	p := ec2.NewDescribeImagesPaginator(c.api, &ec2.DescribeImagesInput{
		Owners:  c.imageOwners,
		Filters: []types.Filter{{Name: aws.String("state"), Values: []string{"available"}}},
	})
	var out []provisioning.Image
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe images: %w", classify(err))
		}
		for _, img := range page.Images {
			out = append(out, provisioning.Image{
				ID:   aws.ToString(img.ImageId),
				Name: aws.ToString(img.Name),
			})
		}
	}
	return out, nil
}

// CreateInstances implements provisioning.Backend. All instances are
// started by one RunInstances call and then tagged with their name.
func (c *Client) CreateInstances(ctx context.Context, n int, image provisioning.Image, flavor string, opts provisioning.CreateOptions) ([]*provisioning.Instance, error) {
	if len(opts.Names) < n {
		return nil, fault.New(fault.Configuration, "%d names for %d instances", len(opts.Names), n)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.ServerCreate)
	defer cancel()

	groupNames, groupIDs := securityGroups(opts.SecurityGroups)
	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(image.ID),
		InstanceType:     types.InstanceType(flavor),
		MinCount:         aws.Int32(int32(n)),
		MaxCount:         aws.Int32(int32(n)),
		SecurityGroups:   groupNames,
		SecurityGroupIds: groupIDs,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{c.clusterTag()},
		}},
	}
	if opts.KeyName != "" {
		input.KeyName = aws.String(opts.KeyName)
	}
	if opts.Subnet != "" {
		input.SubnetId = aws.String(opts.Subnet)
	}
	if opts.ClientToken != "" {
		input.ClientToken = aws.String(opts.ClientToken)
	}

	var out *ec2.RunInstancesOutput
	err := retry.WithExponentialBackoff(ctx, func() error {
		res, err := c.api.RunInstances(ctx, input)
		if err != nil {
			err = classify(err)
			if !fault.IsTransport(err) {
				return retry.Fatal(err)
			}
			return err
		}
		out = res
		return nil
	}, retry.WithMaxRetries(c.timeouts.RetryMaxAttempts), retry.WithInitialDelay(c.timeouts.RetryInitialDelay))
	if err != nil {
		return nil, fmt.Errorf("failed to run %d instances: %w", n, err)
	}

	insts := make([]*provisioning.Instance, 0, len(out.Instances))
	for i, raw := range out.Instances {
		inst := instance(raw)
		inst.State = provisioning.StatePending
		inst.Name = opts.Names[i]
		if err := c.tagName(ctx, inst.ID, inst.Name, image.Name); err != nil {
			c.log.Info("failed to tag instance", "id", inst.ID, "error", err.Error())
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

// tagName sets the descriptive Name tag of an instance.
func (c *Client) tagName(ctx context.Context, id, name, image string) error {
	_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags: []types.Tag{{
			Key:   aws.String("Name"),
			Value: aws.String(naming.InstanceTag(name, c.now(), image)),
		}},
	})
	return classify(err)
}

// PollState implements provisioning.Backend. Addresses are refreshed on
// every poll.
func (c *Client) PollState(ctx context.Context, inst *provisioning.Instance) (provisioning.State, error) {
	raw, err := c.describe(ctx, inst.ID)
	if err != nil {
		// EC2 is eventually consistent: a just-started instance may not be
		// visible yet.
		if fault.IsNotFound(err) && inst.State <= provisioning.StatePending {
			return provisioning.StatePending, nil
		}
		if fault.IsNotFound(err) {
			return provisioning.StateTerminated, nil
		}
		return inst.State, err
	}

	fresh := instance(raw)
	if fresh.Address != "" {
		inst.Address = fresh.Address
	}
	if fresh.ExternalAddress != "" {
		inst.ExternalAddress = fresh.ExternalAddress
	}
	return fresh.State, nil
}

// Lookup implements provisioning.Backend. address may be a private or a
// public address of a live instance tagged with this client's cluster.
func (c *Client) Lookup(ctx context.Context, address string) (*provisioning.Instance, error) {
	for _, filter := range []string{"private-ip-address", "ip-address"} {
		out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters: []types.Filter{
				{Name: aws.String(filter), Values: []string{address}},
				{Name: aws.String("tag:" + ClusterTag), Values: []string{c.cluster}},
				{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", classify(err))
		}
		for _, r := range out.Reservations {
			if len(r.Instances) > 0 {
				return instance(r.Instances[0]), nil
			}
		}
	}
	return nil, fault.New(fault.NotFound, "no instance has address %s", address)
}

// Terminate implements provisioning.Backend.
func (c *Client) Terminate(ctx context.Context, inst *provisioning.Instance) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	_, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{inst.ID}})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", inst.ID, classify(err))
	}
	return nil
}

// Stop implements provisioning.Backend.
func (c *Client) Stop(ctx context.Context, inst *provisioning.Instance) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	_, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{inst.ID}})
	if err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", inst.ID, classify(err))
	}
	return nil
}

func (c *Client) describe(ctx context.Context, id string) (types.Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return types.Instance{}, fmt.Errorf("failed to describe instance %s: %w", id, classify(err))
	}
	for _, r := range out.Reservations {
		for _, raw := range r.Instances {
			if aws.ToString(raw.InstanceId) == id {
				return raw, nil
			}
		}
	}
	return types.Instance{}, fault.New(fault.NotFound, "instance %s not found", id)
}

func (c *Client) clusterTag() types.Tag {
	return types.Tag{Key: aws.String(ClusterTag), Value: aws.String(c.cluster)}
}

// instance converts an EC2 instance. Instances without a private address
// are reached on their public one.
func instance(raw types.Instance) *provisioning.Instance {
	inst := &provisioning.Instance{
		ID:              aws.ToString(raw.InstanceId),
		Address:         aws.ToString(raw.PrivateIpAddress),
		ExternalAddress: aws.ToString(raw.PublicIpAddress),
		Image:           aws.ToString(raw.ImageId),
		SpotRequestID:   aws.ToString(raw.SpotInstanceRequestId),
		State:           provisioning.StatePending,
	}
	if inst.Address == "" {
		inst.Address = inst.ExternalAddress
	}
	for _, tag := range raw.Tags {
		if aws.ToString(tag.Key) == "Name" {
			inst.Name, _, _ = strings.Cut(aws.ToString(tag.Value), " ")
		}
	}
	if raw.State != nil {
		inst.State = instanceState(raw.State.Name)
	}
	return inst
}

func instanceState(name types.InstanceStateName) provisioning.State {
	switch name {
	case types.InstanceStateNameRunning:
		return provisioning.StateActive
	case types.InstanceStateNameStopping, types.InstanceStateNameStopped:
		return provisioning.StateStopped
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return provisioning.StateTerminated
	default:
		return provisioning.StatePending
	}
}

// securityGroups splits groups into names and "sg-" ids. VPC launches only
// accept ids.
func securityGroups(groups []string) (names, ids []string) {
	for _, g := range groups {
		if strings.HasPrefix(g, "sg-") {
			ids = append(ids, g)
		} else {
			names = append(names, g)
		}
	}
	return names, ids
}
