package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPipelineFile is looked up in the working directory when no path is given.
const DefaultPipelineFile = "shipyard.yaml"

// LoadFile reads, defaults and validates a pipeline definition from a YAML file.
func LoadFile(path string) (*Pipeline, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	p.resolvePaths(filepath.Dir(path))
	return p, nil
}

// Parse decodes, defaults and validates a pipeline definition.
// Unknown fields are rejected so that typos surface at load time.
func Parse(data []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	p.ApplyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindPipelineFile returns the default pipeline file in the working directory.
func FindPipelineFile() (string, error) {
	if _, err := os.Stat(DefaultPipelineFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s not found in current directory", DefaultPipelineFile)
		}
		return "", err
	}
	return DefaultPipelineFile, nil
}

// WriteFile marshals a pipeline definition to YAML.
func WriteFile(p *Pipeline, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// resolvePaths makes relative paths in the definition relative to the
// directory of the pipeline file.
func (p *Pipeline) resolvePaths(base string) {
	abs := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(base, path)
	}

	p.Image.Context = abs(p.Image.Context)
	if p.Store.Backend == StoreFile {
		p.Store.Path = abs(p.Store.Path)
	}
	for i := range p.Targets {
		p.Targets[i].Manifest = abs(p.Targets[i].Manifest)
	}
	for i := range p.Stages {
		if p.Stages[i].Action == ActionShell {
			if p.Stages[i].Dir == "" {
				p.Stages[i].Dir = base
			} else {
				p.Stages[i].Dir = abs(p.Stages[i].Dir)
			}
		}
	}
}
