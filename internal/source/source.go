// Package source queries EC2 and Auto Scaling for the instances that make up
// a cluster and normalizes them into model.InstanceRecord values.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/edvin/ec2-inventory/internal/model"
)

// ErrInstanceNotFound is returned by FetchDetail when EC2 has no instance
// with the requested id.
var ErrInstanceNotFound = errors.New("instance not found")

// EC2API is the subset of the EC2 client the source uses.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// AutoScalingAPI is the subset of the Auto Scaling client the source uses.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	DescribeScalingActivities(ctx context.Context, params *autoscaling.DescribeScalingActivitiesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeScalingActivitiesOutput, error)
}

// Source is the cloud inventory adapter. Every call it makes to AWS runs
// under its own timeout.
type Source struct {
	logger  zerolog.Logger
	ec2     EC2API
	asg     AutoScalingAPI
	timeout time.Duration
}

// New creates a Source. A zero timeout leaves calls bounded only by ctx.
func New(logger zerolog.Logger, ec2Client EC2API, asgClient AutoScalingAPI, timeout time.Duration) *Source {
	return &Source{
		logger:  logger.With().Str("component", "source").Logger(),
		ec2:     ec2Client,
		asg:     asgClient,
		timeout: timeout,
	}
}

func (s *Source) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// QueryByTag returns the ids of running instances matching filter. All
// result pages are read before it returns.
func (s *Source) QueryByTag(ctx context.Context, filter TagFilter) ([]string, error) {
	filters, err := filter.EC2Filters()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var ids []string
	pages := ec2.NewDescribeInstancesPaginator(s.ec2, &ec2.DescribeInstancesInput{
		Filters:    filters,
		MaxResults: aws.Int32(1000),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				if id := aws.ToString(inst.InstanceId); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	s.logger.Debug().Int("count", len(ids)).Msg("tag query complete")
	return ids, nil
}

// QueryAutoScalingMembership returns the ids of the instances in service in
// the named auto scaling group.
func (s *Source) QueryAutoScalingMembership(ctx context.Context, groupName string) ([]string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	group, err := s.describeGroup(ctx, groupName)
	if err != nil {
		return nil, err
	}
	ids := inServiceIDs(group)
	s.logger.Debug().Str("group", groupName).Int("count", len(ids)).Msg("auto scaling query complete")
	return ids, nil
}

// FetchDetail resolves one instance id to its normalized record.
func (s *Source) FetchDetail(ctx context.Context, id string) (model.InstanceRecord, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	out, err := s.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		return model.InstanceRecord{}, fmt.Errorf("describe instance %s: %w", id, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) == id {
				return normalize(inst), nil
			}
		}
	}
	return model.InstanceRecord{}, fmt.Errorf("%s: %w", id, ErrInstanceNotFound)
}

// ScalingSignals reports when the auto scaling group last changed and which
// instances are in service in it. An empty group name yields zero signals
// without calling AWS.
func (s *Source) ScalingSignals(ctx context.Context, groupName string) (model.ScalingSignals, error) {
	if groupName == "" {
		return model.ScalingSignals{}, nil
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	group, err := s.describeGroup(ctx, groupName)
	if err != nil {
		return model.ScalingSignals{}, err
	}
	sig := model.ScalingSignals{
		GroupModified: aws.ToTime(group.CreatedTime),
		Members:       inServiceIDs(group),
	}

	out, err := s.asg.DescribeScalingActivities(ctx, &autoscaling.DescribeScalingActivitiesInput{
		AutoScalingGroupName: aws.String(groupName),
		MaxRecords:           aws.Int32(5),
	})
	if err != nil {
		return model.ScalingSignals{}, fmt.Errorf("describe scaling activities %s: %w", groupName, err)
	}
	for _, act := range out.Activities {
		for _, t := range []*time.Time{act.StartTime, act.EndTime} {
			if t != nil && t.After(sig.GroupModified) {
				sig.GroupModified = *t
			}
		}
	}
	return sig, nil
}

func (s *Source) describeGroup(ctx context.Context, groupName string) (asgtypes.AutoScalingGroup, error) {
	pages := autoscaling.NewDescribeAutoScalingGroupsPaginator(s.asg, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{groupName},
	})
	var (
		found asgtypes.AutoScalingGroup
		ok    bool
	)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return asgtypes.AutoScalingGroup{}, fmt.Errorf("describe auto scaling group %s: %w", groupName, err)
		}
		for _, g := range page.AutoScalingGroups {
			if aws.ToString(g.AutoScalingGroupName) == groupName {
				found, ok = g, true
			}
		}
	}
	if !ok {
		return asgtypes.AutoScalingGroup{}, fmt.Errorf("auto scaling group %s not found", groupName)
	}
	return found, nil
}

func inServiceIDs(group asgtypes.AutoScalingGroup) []string {
	var ids []string
	for _, inst := range group.Instances {
		if inst.LifecycleState != asgtypes.LifecycleStateInService {
			continue
		}
		if id := aws.ToString(inst.InstanceId); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func normalize(inst ec2types.Instance) model.InstanceRecord {
	tags := make(model.Tags, len(inst.Tags))
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	rec := model.InstanceRecord{
		ID:             aws.ToString(inst.InstanceId),
		PrivateAddress: aws.ToString(inst.PrivateIpAddress),
		PublicAddress:  aws.ToString(inst.PublicIpAddress),
		Tags:           tags,
		ImageID:        aws.ToString(inst.ImageId),
		InstanceType:   string(inst.InstanceType),
		LaunchTime:     aws.ToTime(inst.LaunchTime).UTC(),
	}
	if inst.Placement != nil {
		rec.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	return rec
}
