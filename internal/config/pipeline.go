package config

import (
	"time"
)

// Action identifies which component a stage delegates to.
type Action string

// Supported stage actions.
const (
	ActionShell    Action = "shell"
	ActionBuild    Action = "build"
	ActionPublish  Action = "publish"
	ActionDeploy   Action = "deploy"
	ActionRollback Action = "rollback"
	ActionGate     Action = "gate"
)

// TriggerPolicy decides what happens to a trigger while a run is active.
type TriggerPolicy string

// Supported trigger policies.
const (
	TriggerReject TriggerPolicy = "reject"
	TriggerQueue  TriggerPolicy = "queue"
)

// DegradedPolicy decides what the orchestrator does with a degraded rollout.
type DegradedPolicy string

// Supported degraded-rollout policies.
const (
	DegradedReport   DegradedPolicy = "report"
	DegradedRollback DegradedPolicy = "rollback"
)

// Store backends.
const (
	StoreFile = "file"
	StoreS3   = "s3"
)

// Pipeline is a declarative pipeline definition.
type Pipeline struct {
	ID            string        `yaml:"id"`
	Description   string        `yaml:"description,omitempty"`
	Parallelism   int           `yaml:"parallelism,omitempty"`
	TriggerPolicy TriggerPolicy `yaml:"trigger_policy,omitempty"`

	Image    ImageConfig    `yaml:"image,omitempty"`
	Registry RegistryConfig `yaml:"registry,omitempty"`
	Cluster  ClusterConfig  `yaml:"cluster,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`

	Servers []ServerSpec   `yaml:"servers,omitempty"`
	Targets []DeployTarget `yaml:"targets,omitempty"`
	Stages  []Stage        `yaml:"stages"`
}

// ImageConfig describes the container image built by build stages.
type ImageConfig struct {
	Name         string            `yaml:"name"`
	Context      string            `yaml:"context,omitempty"`
	Dockerfile   string            `yaml:"dockerfile,omitempty"`
	BuildArgs    map[string]string `yaml:"build_args,omitempty"`
	LogTailLines int               `yaml:"log_tail_lines,omitempty"`
}

// RegistryConfig configures the registry publisher. Credentials are never
// part of the definition; they are resolved per call.
type RegistryConfig struct {
	Server         string        `yaml:"server,omitempty"`
	MaxRetries     *int          `yaml:"max_retries,omitempty"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
}

// ClusterConfig locates the Kubernetes API server.
type ClusterConfig struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Context    string `yaml:"context,omitempty"`
}

// StoreConfig selects where runs are persisted.
type StoreConfig struct {
	Backend  string `yaml:"backend,omitempty"`
	Path     string `yaml:"path,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Region   string `yaml:"region,omitempty"`
}

// ServerSpec describes a compute endpoint the pipeline depends on.
type ServerSpec struct {
	Name       string            `yaml:"name"`
	Image      string            `yaml:"image,omitempty"`
	ServerType string            `yaml:"server_type,omitempty"`
	Location   string            `yaml:"location,omitempty"`
	VolumeSize int               `yaml:"volume_size,omitempty"`
	Firewall   []FirewallRule    `yaml:"firewall,omitempty"`
	SSHKeys    []string          `yaml:"ssh_keys,omitempty"`
	ReadyPort  int               `yaml:"ready_port,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	Labels     map[string]string `yaml:"labels,omitempty"`
}

// FirewallRule is an inbound network rule for a provisioned server.
type FirewallRule struct {
	Protocol  string   `yaml:"protocol"`
	Port      string   `yaml:"port,omitempty"`
	SourceIPs []string `yaml:"source_ips,omitempty"`
}

// DeployTarget is a named Deployment in a cluster namespace.
type DeployTarget struct {
	Name           string         `yaml:"name"`
	Namespace      string         `yaml:"namespace,omitempty"`
	Deployment     string         `yaml:"deployment,omitempty"`
	Container      string         `yaml:"container,omitempty"`
	Manifest       string         `yaml:"manifest,omitempty"`
	Replicas       *int32         `yaml:"replicas,omitempty"`
	MaxSurge       string         `yaml:"max_surge,omitempty"`
	MaxUnavailable string         `yaml:"max_unavailable,omitempty"`
	PollInterval   time.Duration  `yaml:"poll_interval,omitempty"`
	Timeout        time.Duration  `yaml:"timeout,omitempty"`
	OnDegraded     DegradedPolicy `yaml:"on_degraded,omitempty"`
}

// Stage is one node of the pipeline graph.
type Stage struct {
	Name    string            `yaml:"name"`
	Action  Action            `yaml:"action"`
	Run     string            `yaml:"run,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Target  string            `yaml:"target,omitempty"`
	Needs   []string          `yaml:"needs,omitempty"`
	Retries int               `yaml:"retries,omitempty"`
	Backoff time.Duration     `yaml:"backoff,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Enabled *bool             `yaml:"enabled,omitempty"`

	// ToRevision pins the revision a rollback stage returns to.
	ToRevision *int64 `yaml:"to_revision,omitempty"`
}

// IsEnabled reports whether the stage takes part in runs.
func (s Stage) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Stage returns the stage with the given name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Target returns the deploy target with the given name.
func (p *Pipeline) Target(name string) (DeployTarget, bool) {
	for _, t := range p.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return DeployTarget{}, false
}

// Server returns the server spec with the given name.
func (p *Pipeline) Server(name string) (ServerSpec, bool) {
	for _, s := range p.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerSpec{}, false
}

// DesiredReplicas returns the configured replica count.
func (t DeployTarget) DesiredReplicas() int32 {
	if t.Replicas == nil {
		return DefaultReplicas
	}
	return *t.Replicas
}
