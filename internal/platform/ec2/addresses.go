package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/imamik/fleetrun/internal/provisioning"
)

// AssociateExternalIP implements provisioning.Backend. An unassociated
// elastic address of the cluster is reused, otherwise a new one is
// allocated.
func (c *Client) AssociateExternalIP(ctx context.Context, inst *provisioning.Instance) (string, error) {
	c.addrMu.Lock()
	defer c.addrMu.Unlock()

	addrs, err := c.addresses(ctx)
	if err != nil {
		return "", err
	}
	var addr *types.Address
	for i := range addrs {
		if addrs[i].AssociationId == nil && addrs[i].InstanceId == nil {
			addr = &addrs[i]
			break
		}
	}
	if addr == nil {
		out, err := c.api.AllocateAddress(ctx, &ec2.AllocateAddressInput{
			Domain: types.DomainTypeVpc,
			TagSpecifications: []types.TagSpecification{{
				ResourceType: types.ResourceTypeElasticIp,
				Tags:         []types.Tag{c.clusterTag()},
			}},
		})
		if err != nil {
			return "", fmt.Errorf("failed to allocate address: %w", classify(err))
		}
		addr = &types.Address{AllocationId: out.AllocationId, PublicIp: out.PublicIp}
		c.log.V(1).Info("address allocated", "ip", aws.ToString(out.PublicIp))
	}

	_, err = c.api.AssociateAddress(ctx, &ec2.AssociateAddressInput{
		AllocationId: addr.AllocationId,
		InstanceId:   aws.String(inst.ID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to associate %s with %s: %w", aws.ToString(addr.PublicIp), inst.ID, classify(err))
	}
	return aws.ToString(addr.PublicIp), nil
}

// ReleaseExternalIPs implements provisioning.ExternalIPReleaser. Addresses
// still associated with an instance are kept.
func (c *Client) ReleaseExternalIPs(ctx context.Context) (int, error) {
	c.addrMu.Lock()
	defer c.addrMu.Unlock()

	addrs, err := c.addresses(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, addr := range addrs {
		if addr.AssociationId != nil {
			continue
		}
		_, err := c.api.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: addr.AllocationId})
		if err != nil && !isNotFound(err) {
			return released, fmt.Errorf("failed to release %s: %w", aws.ToString(addr.PublicIp), classify(err))
		}
		released++
	}
	return released, nil
}

// addresses lists the elastic addresses of the cluster.
func (c *Client) addresses(ctx context.Context) ([]types.Address, error) {
	out, err := c.api.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		Filters: []types.Filter{{Name: aws.String("tag:" + ClusterTag), Values: []string{c.cluster}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %w", classify(err))
	}
	return out.Addresses, nil
}
