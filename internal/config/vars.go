package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ExtraVars are operator-supplied Ansible vars merged over the generated
// ones. The file looks like:
//
//	all:
//	  kubernetes_version: "1.31"
//	control_plane:
//	  apiserver_cert_sans: "api.example.com"
//	worker:
//	  kubelet_max_pods: "110"
type ExtraVars struct {
	All          map[string]string `yaml:"all"`
	ControlPlane map[string]string `yaml:"control_plane"`
	Worker       map[string]string `yaml:"worker"`
}

// LoadVarsFile parses a vars file. Unknown top-level keys are rejected so a
// typo in a section name does not silently drop vars.
func LoadVarsFile(path string) (ExtraVars, error) {
	var vars ExtraVars
	f, err := os.Open(path)
	if err != nil {
		return vars, fmt.Errorf("open vars file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&vars); err != nil && !errors.Is(err, io.EOF) {
		return vars, fmt.Errorf("parse vars file %s: %w", path, err)
	}
	return vars, nil
}
