package model

// Role is the function an instance plays in the cluster.
type Role int

const (
	RoleNone Role = iota
	RoleControlPlane
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleControlPlane:
		return "control-plane"
	case RoleWorker:
		return "worker"
	default:
		return "none"
	}
}

// Default Ansible group names, matching the kubespray-style playbooks the
// inventory feeds.
const (
	DefaultControlPlaneGroup = "k8s_master"
	DefaultWorkerGroup       = "k8s_worker"
)
