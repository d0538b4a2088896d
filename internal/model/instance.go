package model

import (
	"strings"
	"time"
)

// RoleTagKey is the tag that carries an instance's cluster role.
const RoleTagKey = "Role"

// ClusterTagKey returns the ownership tag key kubeadm and the cloud provider
// integration use for a cluster, e.g. "kubernetes.io/cluster/prod".
func ClusterTagKey(clusterName string) string {
	return "kubernetes.io/cluster/" + clusterName
}

// Tags is an instance's tag set. RoleTagKey is the only key the inventory
// depends on; every other key is carried through to hostvars as-is.
type Tags map[string]string

// Get returns the value for key. An exact key match wins; otherwise the
// first key equal under case folding is used, in sorted key order.
func (t Tags) Get(key string) (string, bool) {
	if v, ok := t[key]; ok {
		return v, true
	}
	var (
		match string
		found bool
	)
	for k := range t {
		if strings.EqualFold(k, key) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return "", false
	}
	return t[match], true
}

// Role returns the trimmed value of the Role tag, or "".
func (t Tags) Role() string {
	v, _ := t.Get(RoleTagKey)
	return strings.TrimSpace(v)
}

// InstanceRecord is one running EC2 instance, normalized.
type InstanceRecord struct {
	ID               string    `json:"instance_id"`
	PrivateAddress   string    `json:"private_ip"`
	PublicAddress    string    `json:"public_ip"`
	Tags             Tags      `json:"tags"`
	AvailabilityZone string    `json:"availability_zone"`
	ImageID          string    `json:"image_id"`
	InstanceType     string    `json:"instance_type"`
	LaunchTime       time.Time `json:"launch_time"`
}

// Address is the address Ansible connects to: the private IP, or the public
// IP when the instance has no private one. Empty means not addressable.
func (r InstanceRecord) Address() string {
	if r.PrivateAddress != "" {
		return r.PrivateAddress
	}
	return r.PublicAddress
}

// ScalingSignals are the externally observed modifications the cache checks
// a stored document against.
type ScalingSignals struct {
	// GroupModified is the latest of the group's creation time and its most
	// recent scaling activity. Zero when no group is configured.
	GroupModified time.Time
	// Members are the instance ids currently in service in the group.
	Members []string
}
