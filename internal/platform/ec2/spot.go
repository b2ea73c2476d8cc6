package ec2

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/imamik/fleetrun/internal/fault"
	"github.com/imamik/fleetrun/internal/provisioning"
	"github.com/imamik/fleetrun/internal/util/retry"
)

// spotProduct is the product whose price history drives automatic bids.
const spotProduct = "Linux/UNIX"

// RequestSpot implements provisioning.SpotBackend with one one-time request
// per instance.
func (c *Client) RequestSpot(ctx context.Context, n int, image provisioning.Image, flavor string, price float64, opts provisioning.CreateOptions) ([]string, error) {
	if len(opts.Names) < n {
		return nil, fault.New(fault.Configuration, "%d names for %d spot requests", len(opts.Names), n)
	}

	groupNames, groupIDs := securityGroups(opts.SecurityGroups)
	spec := &types.RequestSpotLaunchSpecification{
		ImageId:          aws.String(image.ID),
		InstanceType:     types.InstanceType(flavor),
		SecurityGroups:   groupNames,
		SecurityGroupIds: groupIDs,
	}
	if opts.KeyName != "" {
		spec.KeyName = aws.String(opts.KeyName)
	}
	if opts.Subnet != "" {
		spec.SubnetId = aws.String(opts.Subnet)
	}

	input := &ec2.RequestSpotInstancesInput{
		SpotPrice:           aws.String(strconv.FormatFloat(price, 'f', 4, 64)),
		InstanceCount:       aws.Int32(int32(n)),
		Type:                types.SpotInstanceTypeOneTime,
		LaunchSpecification: spec,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSpotInstancesRequest,
			Tags:         []types.Tag{c.clusterTag()},
		}},
	}
	if opts.ClientToken != "" {
		input.ClientToken = aws.String(opts.ClientToken)
	}

	out, err := c.api.RequestSpotInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to request spot instances: %w", classify(err))
	}

	c.spotMu.Lock()
	defer c.spotMu.Unlock()
	ids := make([]string, 0, len(out.SpotInstanceRequests))
	for i, req := range out.SpotInstanceRequests {
		id := aws.ToString(req.SpotInstanceRequestId)
		c.spotNames[id] = opts.Names[i]
		ids = append(ids, id)
	}
	c.log.V(1).Info("spot requests placed", "count", len(ids), "price", aws.ToString(input.SpotPrice))
	return ids, nil
}

// PollSpot implements provisioning.SpotBackend. A request the vendor closed
// without an instance ends polling.
func (c *Client) PollSpot(ctx context.Context, requestID string) (*provisioning.Instance, error) {
	out, err := c.api.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe spot request %s: %w", requestID, classify(err))
	}
	if len(out.SpotInstanceRequests) == 0 {
		return nil, nil
	}

	req := out.SpotInstanceRequests[0]
	switch req.State {
	case types.SpotInstanceStateActive:
		if req.InstanceId == nil {
			return nil, nil
		}
	case types.SpotInstanceStateCancelled, types.SpotInstanceStateFailed, types.SpotInstanceStateClosed:
		reason := string(req.State)
		if req.Status != nil && req.Status.Code != nil {
			reason = aws.ToString(req.Status.Code)
		}
		return nil, retry.Fatal(fault.New(fault.Provisioning, "spot request %s ended without an instance: %s", requestID, reason))
	default:
		return nil, nil
	}

	raw, err := c.describe(ctx, aws.ToString(req.InstanceId))
	if err != nil {
		if fault.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	inst := instance(raw)
	inst.SpotRequestID = requestID

	c.spotMu.Lock()
	name := c.spotNames[requestID]
	delete(c.spotNames, requestID)
	c.spotMu.Unlock()
	if name != "" {
		inst.Name = name
		if err := c.tagName(ctx, inst.ID, name, inst.Image); err != nil {
			c.log.Info("failed to tag instance", "id", inst.ID, "error", err.Error())
		}
	}
	return inst, nil
}

// CancelSpot implements provisioning.SpotBackend.
func (c *Client) CancelSpot(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	_, err := c.api.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: requestIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel spot requests: %w", classify(err))
	}

	c.spotMu.Lock()
	for _, id := range requestIDs {
		delete(c.spotNames, id)
	}
	c.spotMu.Unlock()
	return nil
}

// SpotPriceHistory implements provisioning.SpotBackend. Unparsable prices
// are skipped.
func (c *Client) SpotPriceHistory(ctx context.Context, flavor string, since time.Time, maxPages int) ([]float64, error) {
	p := ec2.NewDescribeSpotPriceHistoryPaginator(c.api, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []types.InstanceType{types.InstanceType(flavor)},
		ProductDescriptions: []string{spotProduct},
		StartTime:           aws.Time(since),
	})

	var prices []float64
	for pages := 0; p.HasMorePages() && (maxPages <= 0 || pages < maxPages); pages++ {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe spot price history: %w", classify(err))
		}
		for _, sp := range page.SpotPriceHistory {
			v, err := strconv.ParseFloat(aws.ToString(sp.SpotPrice), 64)
			if err != nil {
				continue
			}
			prices = append(prices, v)
		}
	}
	return prices, nil
}
