package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Reserved top-level keys of the Ansible dynamic inventory document.
const (
	metaKey = "_meta"
	allKey  = "all"
)

// Group is one Ansible group: its member addresses and shared vars.
type Group struct {
	Hosts []string          `json:"hosts"`
	Vars  map[string]string `json:"vars"`
}

// NewGroup returns an empty group with non-nil hosts and vars, so it
// serializes as {"hosts": [], "vars": {}}.
func NewGroup() *Group {
	return &Group{Hosts: []string{}, Vars: map[string]string{}}
}

// Document is a synthesized inventory. It marshals to the Ansible dynamic
// inventory shape:
//
//	{
//	  "<group>": {"hosts": [...], "vars": {...}},
//	  "_meta":   {"hostvars": {"<address>": {...}}},
//	  "all":     {"vars": {...}}
//	}
//
// A Document is never modified after it is returned by the builder.
type Document struct {
	Groups   map[string]*Group
	HostVars map[string]InstanceRecord
	AllVars  map[string]string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Groups:   map[string]*Group{},
		HostVars: map[string]InstanceRecord{},
	}
}

// GroupNames returns the role group names in sorted order.
func (d *Document) GroupNames() []string {
	names := make([]string, 0, len(d.Groups))
	for name := range d.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstanceIDs returns the set of instance ids recorded in hostvars.
func (d *Document) InstanceIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.HostVars))
	for _, rec := range d.HostVars {
		ids[rec.ID] = struct{}{}
	}
	return ids
}

// HostVarsFor returns the vars Ansible requests with --host. Unknown hosts
// yield an empty object, as the dynamic inventory contract requires.
func (d *Document) HostVarsFor(address string) any {
	if rec, ok := d.HostVars[address]; ok {
		return rec
	}
	return map[string]any{}
}

type hostVarsSection struct {
	HostVars map[string]InstanceRecord `json:"hostvars"`
}

type allSection struct {
	Vars map[string]string `json:"vars"`
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Groups)+2)
	for name, g := range d.Groups {
		if name == metaKey || name == allKey {
			return nil, fmt.Errorf("group name %q is reserved", name)
		}
		out[name] = g
	}
	hostvars := d.HostVars
	if hostvars == nil {
		hostvars = map[string]InstanceRecord{}
	}
	out[metaKey] = hostVarsSection{HostVars: hostvars}
	if len(d.AllVars) > 0 {
		out[allKey] = allSection{Vars: d.AllVars}
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	metaRaw, ok := raw[metaKey]
	if !ok {
		return errors.New("inventory document has no _meta section")
	}
	var meta hostVarsSection
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return fmt.Errorf("decode _meta: %w", err)
	}

	doc := Document{
		Groups:   map[string]*Group{},
		HostVars: meta.HostVars,
	}
	if doc.HostVars == nil {
		doc.HostVars = map[string]InstanceRecord{}
	}

	for key, value := range raw {
		switch key {
		case metaKey:
		case allKey:
			var all allSection
			if err := json.Unmarshal(value, &all); err != nil {
				return fmt.Errorf("decode all: %w", err)
			}
			doc.AllVars = all.Vars
		default:
			g := NewGroup()
			if err := json.Unmarshal(value, g); err != nil {
				return fmt.Errorf("decode group %s: %w", key, err)
			}
			if g.Hosts == nil {
				g.Hosts = []string{}
			}
			if g.Vars == nil {
				g.Vars = map[string]string{}
			}
			doc.Groups[key] = g
		}
	}

	*d = doc
	return nil
}
