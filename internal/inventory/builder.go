package inventory

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/edvin/ec2-inventory/internal/config"
	"github.com/edvin/ec2-inventory/internal/model"
)

// apiServerPort is the kube-apiserver port advertised to workers.
const apiServerPort = "6443"

// GroupNames are the Ansible group names the roles are emitted under.
type GroupNames struct {
	ControlPlane string
	Worker       string
}

// DefaultGroupNames returns k8s_master and k8s_worker.
func DefaultGroupNames() GroupNames {
	return GroupNames{
		ControlPlane: model.DefaultControlPlaneGroup,
		Worker:       model.DefaultWorkerGroup,
	}
}

// Vars are the variable sets attached to the document. Common vars go on
// both role groups; role vars are merged over them.
type Vars struct {
	Common       map[string]string
	ControlPlane map[string]string
	Worker       map[string]string
	All          map[string]string
}

// VarsFromConfig derives the connection, cluster and API server vars from
// cfg, then overlays the operator's vars file.
func VarsFromConfig(cfg *config.Config) Vars {
	v := Vars{
		Common: map[string]string{
			"ansible_user":                 cfg.SSHUser,
			"ansible_ssh_private_key_file": cfg.SSHKeyPath,
			"ansible_ssh_common_args":      sshCommonArgs(cfg),
		},
		ControlPlane: map[string]string{},
		Worker:       map[string]string{},
		All:          map[string]string{},
	}

	issuer := cfg.IssuerURL
	if issuer == "" && cfg.Domain != "" {
		issuer = "https://oidc." + cfg.Domain
	}
	setIf(v.ControlPlane, "cluster_name", cfg.ClusterName)
	setIf(v.ControlPlane, "cluster_domain", cfg.Domain)
	setIf(v.ControlPlane, "aws_account_id", cfg.AccountID)
	setIf(v.ControlPlane, "oidc_issuer_url", issuer)

	setIf(v.Worker, "cluster_name", cfg.ClusterName)
	setIf(v.Worker, "aws_region", cfg.Region)
	setIf(v.Worker, "worker_asg_name", cfg.ASGName)

	setIf(v.All, "cluster_name", cfg.ClusterName)
	setIf(v.All, "aws_region", cfg.Region)
	if cfg.ClusterName != "" {
		v.All["cluster_tag"] = model.ClusterTagKey(cfg.ClusterName)
	}

	merge(v.All, cfg.Vars.All)
	merge(v.ControlPlane, cfg.Vars.ControlPlane)
	merge(v.Worker, cfg.Vars.Worker)
	return v
}

// sshCommonArgs reproduces the ssh options Ansible needs to reach private
// addresses through the jump host.
func sshCommonArgs(cfg *config.Config) string {
	args := []string{
		"-o StrictHostKeyChecking=no",
		"-o UserKnownHostsFile=/dev/null",
	}
	if cfg.JumpHost != "" {
		port := ""
		if cfg.JumpHostPort != 0 && cfg.JumpHostPort != 22 {
			port = fmt.Sprintf(" -p %d", cfg.JumpHostPort)
		}
		args = append(args, fmt.Sprintf("-o ProxyCommand='ssh -W %%h:%%p -i %s%s %s@%s'",
			cfg.SSHKeyPath, port, cfg.SSHUser, cfg.JumpHost))
	}
	return strings.Join(args, " ")
}

// Builder assembles inventory documents.
type Builder struct {
	names GroupNames
	vars  Vars
}

// NewBuilder creates a Builder.
func NewBuilder(names GroupNames, vars Vars) *Builder {
	return &Builder{names: names, vars: vars}
}

// Build groups the collected instances by role. Every addressable instance
// is recorded in hostvars, classified or not; only classified instances join
// a group. The returned warnings name instances that could not be placed.
// Output is deterministic for a given input.
func (b *Builder) Build(instances map[string]model.InstanceRecord, classifier *Classifier) (*model.Document, []error) {
	doc := model.NewDocument()
	controlPlane := model.NewGroup()
	worker := model.NewGroup()
	merge(controlPlane.Vars, b.vars.Common)
	merge(controlPlane.Vars, b.vars.ControlPlane)
	merge(worker.Vars, b.vars.Common)
	merge(worker.Vars, b.vars.Worker)
	doc.Groups[b.names.ControlPlane] = controlPlane
	doc.Groups[b.names.Worker] = worker

	ids := make([]string, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var warnings []error
	for _, id := range ids {
		rec := instances[id]
		addr := rec.Address()
		if addr == "" {
			warnings = append(warnings, fmt.Errorf("instance %s has no address, skipped", id))
			continue
		}
		if prev, ok := doc.HostVars[addr]; ok {
			warnings = append(warnings, fmt.Errorf("instance %s shares address %s with %s, skipped", id, addr, prev.ID))
			continue
		}
		doc.HostVars[addr] = rec

		switch classifier.Classify(rec.Tags) {
		case model.RoleControlPlane:
			controlPlane.Hosts = append(controlPlane.Hosts, addr)
		case model.RoleWorker:
			worker.Hosts = append(worker.Hosts, addr)
		}
	}
	sort.Strings(controlPlane.Hosts)
	sort.Strings(worker.Hosts)

	all := map[string]string{}
	merge(all, b.vars.All)
	if len(controlPlane.Hosts) > 0 {
		endpoint := net.JoinHostPort(controlPlane.Hosts[0], apiServerPort)
		if _, ok := controlPlane.Vars["api_server_endpoint"]; !ok {
			controlPlane.Vars["api_server_endpoint"] = endpoint
		}
		if _, ok := all["k8s_api_server"]; !ok {
			all["k8s_api_server"] = endpoint
		}
	}
	if len(all) > 0 {
		doc.AllVars = all
	}
	return doc, warnings
}

func setIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}
