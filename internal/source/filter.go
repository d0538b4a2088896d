package source

import (
	"errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/edvin/ec2-inventory/internal/model"
)

// Values of the cluster ownership tag that mark an instance as part of the
// cluster.
var clusterTagValues = []string{"owned", "shared"}

// TagFilter selects the instances the tag query returns: running instances
// whose Role tag is one of RoleValues and, when ClusterName is set, that
// carry the cluster's ownership tag.
type TagFilter struct {
	ClusterName string
	RoleValues  []string
}

// EC2Filters translates the filter into DescribeInstances filters. EC2
// matches tag values case-sensitively; classification is case-insensitive,
// so role values are sent as configured.
func (f TagFilter) EC2Filters() ([]ec2types.Filter, error) {
	if f.ClusterName == "" && len(f.RoleValues) == 0 {
		return nil, errors.New("tag filter selects every instance: set a cluster name or role values")
	}

	filters := []ec2types.Filter{{
		Name:   aws.String("instance-state-name"),
		Values: []string{string(ec2types.InstanceStateNameRunning)},
	}}
	if len(f.RoleValues) > 0 {
		values := append([]string(nil), f.RoleValues...)
		sort.Strings(values)
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + model.RoleTagKey),
			Values: values,
		})
	}
	if f.ClusterName != "" {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + model.ClusterTagKey(f.ClusterName)),
			Values: clusterTagValues,
		})
	}
	return filters, nil
}
