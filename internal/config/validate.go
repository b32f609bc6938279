package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"
)

// nameRegex matches pipeline ids, stage names and target names.
var nameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-_]{0,61}[a-z0-9])?$`)

// ValidLocations contains all valid Hetzner Cloud datacenter locations.
// https://docs.hetzner.com/cloud/general/locations/
var ValidLocations = map[string]bool{
	"nbg1": true, // Nuremberg, Germany
	"fsn1": true, // Falkenstein, Germany
	"hel1": true, // Helsinki, Finland
	"ash":  true, // Ashburn, USA
	"hil":  true, // Hillsboro, USA
	"sin":  true, // Singapore
}

// ErrCycle is returned when stage dependencies do not form a DAG.
var ErrCycle = errors.New("stage dependencies contain a cycle")

// Validate checks the definition and returns the first problem found.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !nameRegex.MatchString(p.ID) {
		return fmt.Errorf("invalid id %q: must be lowercase alphanumeric, '-' or '_'", p.ID)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", p.Parallelism)
	}
	switch p.TriggerPolicy {
	case TriggerReject, TriggerQueue:
	default:
		return fmt.Errorf("invalid trigger_policy %q: must be %q or %q", p.TriggerPolicy, TriggerReject, TriggerQueue)
	}

	if err := p.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := p.validateServers(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := p.validateTargets(); err != nil {
		return fmt.Errorf("target validation failed: %w", err)
	}
	if err := p.validateStages(); err != nil {
		return fmt.Errorf("stage validation failed: %w", err)
	}
	if _, err := p.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) validateStore() error {
	switch p.Store.Backend {
	case StoreFile:
		if p.Store.Path == "" {
			return fmt.Errorf("path is required for the file backend")
		}
	case StoreS3:
		if p.Store.Bucket == "" {
			return fmt.Errorf("bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", p.Store.Backend)
	}
	return nil
}

func (p *Pipeline) validateServers() error {
	seen := make(map[string]bool, len(p.Servers))
	for _, s := range p.Servers {
		if !nameRegex.MatchString(s.Name) {
			return fmt.Errorf("invalid server name %q", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server %q", s.Name)
		}
		seen[s.Name] = true

		if !ValidLocations[s.Location] {
			return fmt.Errorf("server %q has invalid location %q: must be one of %v", s.Name, s.Location, sortedKeys(ValidLocations))
		}
		if s.VolumeSize < 0 {
			return fmt.Errorf("server %q: volume_size must not be negative", s.Name)
		}
		if s.ReadyPort < 0 || s.ReadyPort > 65535 {
			return fmt.Errorf("server %q: ready_port %d out of range", s.Name, s.ReadyPort)
		}
		for _, r := range s.Firewall {
			switch r.Protocol {
			case "tcp", "udp":
				if r.Port == "" {
					return fmt.Errorf("server %q: firewall rule for %s needs a port", s.Name, r.Protocol)
				}
			case "icmp":
			default:
				return fmt.Errorf("server %q: unsupported firewall protocol %q", s.Name, r.Protocol)
			}
		}
	}
	return nil
}

func (p *Pipeline) validateTargets() error {
	seen := make(map[string]bool, len(p.Targets))
	for _, t := range p.Targets {
		if !nameRegex.MatchString(t.Name) {
			return fmt.Errorf("invalid target name %q", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true

		if t.DesiredReplicas() < 0 {
			return fmt.Errorf("target %q: replicas must not be negative", t.Name)
		}
		if err := validateIntOrPercent(t.MaxSurge); err != nil {
			return fmt.Errorf("target %q: max_surge: %w", t.Name, err)
		}
		if err := validateIntOrPercent(t.MaxUnavailable); err != nil {
			return fmt.Errorf("target %q: max_unavailable: %w", t.Name, err)
		}
		if t.MaxSurge == "0" && t.MaxUnavailable == "0" {
			return fmt.Errorf("target %q: max_surge and max_unavailable cannot both be 0", t.Name)
		}
		switch t.OnDegraded {
		case DegradedReport, DegradedRollback:
		default:
			return fmt.Errorf("target %q: invalid on_degraded %q", t.Name, t.OnDegraded)
		}
	}
	return nil
}

func validateIntOrPercent(v string) error {
	parsed := intstr.Parse(v)
	_, err := intstr.GetScaledValueFromIntOrPercent(&parsed, 100, false)
	if err != nil {
		return err
	}
	if parsed.Type == intstr.Int && parsed.IntVal < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func (p *Pipeline) validateStages() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}

	names := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if !nameRegex.MatchString(s.Name) {
			return fmt.Errorf("invalid stage name %q", s.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		names[s.Name] = true
	}

	for _, s := range p.Stages {
		if err := p.validateStage(s); err != nil {
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		for _, dep := range s.Needs {
			if dep == s.Name {
				return fmt.Errorf("stage %q depends on itself", s.Name)
			}
			if !names[dep] {
				return fmt.Errorf("stage %q depends on unknown stage %q", s.Name, dep)
			}
		}
	}
	return nil
}

func (p *Pipeline) validateStage(s Stage) error {
	if s.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	switch s.Action {
	case ActionShell:
		if strings.TrimSpace(s.Run) == "" {
			return fmt.Errorf("shell stage requires run")
		}
	case ActionBuild:
		if p.Image.Name == "" {
			return fmt.Errorf("build stage requires image.name")
		}
	case ActionPublish:
		if p.Image.Name == "" {
			return fmt.Errorf("publish stage requires image.name")
		}
	case ActionDeploy, ActionRollback:
		if _, ok := p.Target(s.Target); !ok {
			return fmt.Errorf("unknown target %q", s.Target)
		}
		if s.ToRevision != nil && *s.ToRevision < 1 {
			return fmt.Errorf("to_revision must be positive")
		}
	case ActionGate:
		if _, ok := p.Server(s.Target); !ok {
			return fmt.Errorf("unknown server %q", s.Target)
		}
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// TopologicalOrder returns stage names ordered so that every stage appears
// after all of its dependencies. Ties keep declaration order.
func (p *Pipeline) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(p.Stages))
	dependents := make(map[string][]string, len(p.Stages))
	for _, s := range p.Stages {
		for _, dep := range s.Needs {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	order := make([]string, 0, len(p.Stages))
	done := make(map[string]bool, len(p.Stages))
	for len(order) < len(p.Stages) {
		progressed := false
		for _, s := range p.Stages {
			if done[s.Name] || indegree[s.Name] > 0 {
				continue
			}
			done[s.Name] = true
			order = append(order, s.Name)
			for _, d := range dependents[s.Name] {
				indegree[d]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, s := range p.Stages {
				if !done[s.Name] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
