package ec2

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/imamik/fleetrun/internal/config"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

// fakeAPI keeps EC2 state in memory.
type fakeAPI struct {
	mu sync.Mutex

	next      int
	instances map[string]*types.Instance
	names     map[string]string
	addresses []types.Address
	spot      map[string]*types.SpotInstanceRequest
	// pricePages holds one slice of prices per history page.
	pricePages [][]string

	runInputs  []*ec2.RunInstancesInput
	spotInputs []*ec2.RequestSpotInstancesInput
	runErrs    []error
	terminated []string
	stopped    []string
	released   []string
	cancelled  []string
	pricePulls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		instances: map[string]*types.Instance{},
		names:     map[string]string{},
		spot:      map[string]*types.SpotInstanceRequest{},
	}
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Endpoint{Region: "us-east-1"}, "bench",
		WithAPI(api),
		WithTimeouts(config.TestTimeouts()),
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return c
}

// addInstance registers an instance and returns its id.
func (f *fakeAPI) addInstance(state types.InstanceStateName, private, public string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addInstanceLocked(state, private, public)
}

func (f *fakeAPI) addInstanceLocked(state types.InstanceStateName, private, public string) string {
	f.next++
	id := fmt.Sprintf("i-%04d", f.next)
	inst := &types.Instance{
		InstanceId: aws.String(id),
		ImageId:    aws.String("ami-1"),
		State:      &types.InstanceState{Name: state},
		Tags:       []types.Tag{{Key: aws.String(ClusterTag), Value: aws.String("bench")}},
	}
	if private != "" {
		inst.PrivateIpAddress = aws.String(private)
	}
	if public != "" {
		inst.PublicIpAddress = aws.String(public)
	}
	f.instances[id] = inst
	return id
}

// setCluster moves an instance to another cluster.
func (f *fakeAPI) setCluster(id, cluster string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instances[id]
	for i, tag := range inst.Tags {
		if aws.ToString(tag.Key) == ClusterTag {
			inst.Tags[i].Value = aws.String(cluster)
		}
	}
}

func (f *fakeAPI) setState(id string, state types.InstanceStateName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id].State = &types.InstanceState{Name: state}
}

func (f *fakeAPI) DescribeImages(_ context.Context, _ *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	return &ec2.DescribeImagesOutput{Images: []types.Image{
		{ImageId: aws.String("ami-1"), Name: aws.String("ubuntu-24.04")},
		{ImageId: aws.String("ami-2"), Name: aws.String("ofs-base")},
	}}, nil
}

func (f *fakeAPI) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runInputs = append(f.runInputs, in)
	if len(f.runErrs) > 0 {
		err := f.runErrs[0]
		f.runErrs = f.runErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := &ec2.RunInstancesOutput{}
	for range aws.ToInt32(in.MaxCount) {
		id := f.addInstanceLocked(types.InstanceStateNamePending, fmt.Sprintf("10.0.0.%d", f.next+1), "")
		out.Instances = append(out.Instances, *f.instances[id])
	}
	return out, nil
}

func (f *fakeAPI) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var found []types.Instance
	for _, id := range in.InstanceIds {
		inst, ok := f.instances[id]
		if !ok {
			return nil, apiError("InvalidInstanceID.NotFound")
		}
		found = append(found, *inst)
	}
	if len(in.Filters) > 0 {
		for _, inst := range f.instances {
			if matchesFilters(inst, in.Filters) {
				found = append(found, *inst)
			}
		}
	}
	if len(found) == 0 {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	return &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{{Instances: found}}}, nil
}

func matchesFilters(inst *types.Instance, filters []types.Filter) bool {
	for _, filter := range filters {
		var value string
		switch aws.ToString(filter.Name) {
		case "private-ip-address":
			value = aws.ToString(inst.PrivateIpAddress)
		case "ip-address":
			value = aws.ToString(inst.PublicIpAddress)
		case "instance-state-name":
			value = string(inst.State.Name)
		default:
			if key, ok := strings.CutPrefix(aws.ToString(filter.Name), "tag:"); ok {
				value = tagValue(inst.Tags, key)
			}
		}
		ok := false
		for _, v := range filter.Values {
			ok = ok || v == value
		}
		if !ok {
			return false
		}
	}
	return true
}

func tagValue(tags []types.Tag, key string) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func (f *fakeAPI) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Resources {
		inst, ok := f.instances[id]
		if !ok {
			return nil, apiError("InvalidInstanceID.NotFound")
		}
		inst.Tags = append(inst.Tags, in.Tags...)
		for _, tag := range in.Tags {
			if aws.ToString(tag.Key) == "Name" {
				f.names[id] = aws.ToString(tag.Value)
			}
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeAPI) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.InstanceIds {
		if _, ok := f.instances[id]; !ok {
			return nil, apiError("InvalidInstanceID.NotFound")
		}
		f.instances[id].State = &types.InstanceState{Name: types.InstanceStateNameShuttingDown}
		f.terminated = append(f.terminated, id)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeAPI) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.InstanceIds {
		if _, ok := f.instances[id]; !ok {
			return nil, apiError("InvalidInstanceID.NotFound")
		}
		f.instances[id].State = &types.InstanceState{Name: types.InstanceStateNameStopping}
		f.stopped = append(f.stopped, id)
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeAPI) DescribeAddresses(_ context.Context, _ *ec2.DescribeAddressesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ec2.DescribeAddressesOutput{Addresses: append([]types.Address(nil), f.addresses...)}, nil
}

func (f *fakeAPI) AllocateAddress(_ context.Context, _ *ec2.AllocateAddressInput, _ ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.addresses) + 1
	addr := types.Address{
		AllocationId: aws.String(fmt.Sprintf("eipalloc-%d", n)),
		PublicIp:     aws.String(fmt.Sprintf("198.51.100.%d", n)),
	}
	f.addresses = append(f.addresses, addr)
	return &ec2.AllocateAddressOutput{AllocationId: addr.AllocationId, PublicIp: addr.PublicIp}, nil
}

func (f *fakeAPI) AssociateAddress(_ context.Context, in *ec2.AssociateAddressInput, _ ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.addresses {
		if aws.ToString(f.addresses[i].AllocationId) == aws.ToString(in.AllocationId) {
			f.addresses[i].AssociationId = aws.String("eipassoc-" + aws.ToString(in.InstanceId))
			f.addresses[i].InstanceId = in.InstanceId
			return &ec2.AssociateAddressOutput{AssociationId: f.addresses[i].AssociationId}, nil
		}
	}
	return nil, apiError("InvalidAllocationID.NotFound")
}

func (f *fakeAPI) ReleaseAddress(_ context.Context, in *ec2.ReleaseAddressInput, _ ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, aws.ToString(in.AllocationId))
	return &ec2.ReleaseAddressOutput{}, nil
}

func (f *fakeAPI) RequestSpotInstances(_ context.Context, in *ec2.RequestSpotInstancesInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spotInputs = append(f.spotInputs, in)
	out := &ec2.RequestSpotInstancesOutput{}
	for i := range aws.ToInt32(in.InstanceCount) {
		id := fmt.Sprintf("sir-%d", len(f.spot)+int(i)+1)
		req := types.SpotInstanceRequest{
			SpotInstanceRequestId: aws.String(id),
			State:                 types.SpotInstanceStateOpen,
		}
		out.SpotInstanceRequests = append(out.SpotInstanceRequests, req)
	}
	for i := range out.SpotInstanceRequests {
		req := out.SpotInstanceRequests[i]
		f.spot[aws.ToString(req.SpotInstanceRequestId)] = &req
	}
	return out, nil
}

// fulfill launches an instance for an open spot request.
func (f *fakeAPI) fulfill(requestID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.addInstanceLocked(types.InstanceStateNamePending, "10.0.1.1", "")
	f.instances[id].SpotInstanceRequestId = aws.String(requestID)
	req := f.spot[requestID]
	req.State = types.SpotInstanceStateActive
	req.InstanceId = aws.String(id)
	return id
}

func (f *fakeAPI) closeSpot(requestID, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.spot[requestID]
	req.State = types.SpotInstanceStateClosed
	req.Status = &types.SpotInstanceStatus{Code: aws.String(code)}
}

func (f *fakeAPI) DescribeSpotInstanceRequests(_ context.Context, in *ec2.DescribeSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ec2.DescribeSpotInstanceRequestsOutput{}
	for _, id := range in.SpotInstanceRequestIds {
		req, ok := f.spot[id]
		if !ok {
			return nil, apiError("InvalidSpotInstanceRequestID.NotFound")
		}
		out.SpotInstanceRequests = append(out.SpotInstanceRequests, *req)
	}
	return out, nil
}

func (f *fakeAPI) CancelSpotInstanceRequests(_ context.Context, in *ec2.CancelSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.SpotInstanceRequestIds {
		if req, ok := f.spot[id]; ok {
			req.State = types.SpotInstanceStateCancelled
		}
		f.cancelled = append(f.cancelled, id)
	}
	return &ec2.CancelSpotInstanceRequestsOutput{}, nil
}

func (f *fakeAPI) DescribeSpotPriceHistory(_ context.Context, in *ec2.DescribeSpotPriceHistoryInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pricePulls++

	page := 0
	if tok := aws.ToString(in.NextToken); tok != "" {
		_, _ = fmt.Sscanf(tok, "page-%d", &page)
	}
	out := &ec2.DescribeSpotPriceHistoryOutput{}
	if page < len(f.pricePages) {
		for _, p := range f.pricePages[page] {
			out.SpotPriceHistory = append(out.SpotPriceHistory, types.SpotPrice{
				SpotPrice:    aws.String(p),
				InstanceType: in.InstanceTypes[0],
			})
		}
	}
	if page+1 < len(f.pricePages) {
		out.NextToken = aws.String(fmt.Sprintf("page-%d", page+1))
	}
	return out, nil
}
