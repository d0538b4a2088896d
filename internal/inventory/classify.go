package inventory

import (
	"strings"

	"github.com/edvin/ec2-inventory/internal/model"
)

// Classifier maps an instance's tags to its role.
//
// Matching contract: the Role tag is looked up by exact key, then by
// case-insensitive key; its value is trimmed and compared to each configured
// identifier with exact, case-insensitive equality. There is no substring
// matching: a Role of "workers-v2" does not match "worker". A value listed
// for both roles resolves to control-plane. A missing, empty or unmatched
// Role yields RoleNone.
//
// Only the instance's own tags count; how it was discovered is irrelevant.
type Classifier struct {
	controlPlane []string
	worker       []string
}

// NewClassifier returns a classifier for the given role identifiers. Empty
// identifiers are ignored.
func NewClassifier(controlPlane, worker []string) *Classifier {
	return &Classifier{
		controlPlane: normalizeAll(controlPlane),
		worker:       normalizeAll(worker),
	}
}

// Classify returns exactly one of RoleControlPlane, RoleWorker, RoleNone.
func (c *Classifier) Classify(tags model.Tags) model.Role {
	role := normalize(tags.Role())
	if role == "" {
		return model.RoleNone
	}
	if contains(c.controlPlane, role) {
		return model.RoleControlPlane
	}
	if contains(c.worker, role) {
		return model.RoleWorker
	}
	return model.RoleNone
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(in []string) []string {
	var out []string
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
