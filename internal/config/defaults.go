package config

import "time"

// Defaults applied to a loaded pipeline.
const (
	DefaultParallelism     = 1
	DefaultDockerfile      = "Dockerfile"
	DefaultBuildContext    = "."
	DefaultLogTailLines    = 20
	DefaultPublishRetries  = 3
	DefaultPublishBackoff  = 1 * time.Second
	DefaultStageBackoff    = 2 * time.Second
	DefaultNamespace       = "default"
	DefaultReplicas        = int32(1)
	DefaultMaxSurge        = "25%"
	DefaultMaxUnavailable  = "25%"
	DefaultRolloutTimeout  = 300 * time.Second
	DefaultRolloutInterval = 5 * time.Second
	DefaultServerTimeout   = 10 * time.Minute
	DefaultStorePath       = ".shipyard"
	DefaultServerType      = "cx22"
	DefaultServerImage     = "ubuntu-24.04"
	DefaultLocation        = "nbg1"
)

// ApplyDefaults fills unset fields with their defaults.
func (p *Pipeline) ApplyDefaults() {
	if p.Parallelism == 0 {
		p.Parallelism = DefaultParallelism
	}
	if p.TriggerPolicy == "" {
		p.TriggerPolicy = TriggerReject
	}

	if p.Image.Context == "" {
		p.Image.Context = DefaultBuildContext
	}
	if p.Image.Dockerfile == "" {
		p.Image.Dockerfile = DefaultDockerfile
	}
	if p.Image.LogTailLines == 0 {
		p.Image.LogTailLines = DefaultLogTailLines
	}

	if p.Registry.MaxRetries == nil {
		n := DefaultPublishRetries
		p.Registry.MaxRetries = &n
	}
	if p.Registry.InitialBackoff == 0 {
		p.Registry.InitialBackoff = DefaultPublishBackoff
	}

	if p.Store.Backend == "" {
		p.Store.Backend = StoreFile
	}
	if p.Store.Backend == StoreFile && p.Store.Path == "" {
		p.Store.Path = DefaultStorePath
	}

	for i := range p.Servers {
		s := &p.Servers[i]
		if s.Image == "" {
			s.Image = DefaultServerImage
		}
		if s.ServerType == "" {
			s.ServerType = DefaultServerType
		}
		if s.Location == "" {
			s.Location = DefaultLocation
		}
		if s.Timeout == 0 {
			s.Timeout = DefaultServerTimeout
		}
	}

	for i := range p.Targets {
		t := &p.Targets[i]
		if t.Namespace == "" {
			t.Namespace = DefaultNamespace
		}
		if t.Deployment == "" {
			t.Deployment = t.Name
		}
		if t.MaxSurge == "" {
			t.MaxSurge = DefaultMaxSurge
		}
		if t.MaxUnavailable == "" {
			t.MaxUnavailable = DefaultMaxUnavailable
		}
		if t.PollInterval == 0 {
			t.PollInterval = DefaultRolloutInterval
		}
		if t.Timeout == 0 {
			t.Timeout = DefaultRolloutTimeout
		}
		if t.OnDegraded == "" {
			t.OnDegraded = DegradedReport
		}
	}

	for i := range p.Stages {
		if p.Stages[i].Backoff == 0 {
			p.Stages[i].Backoff = DefaultStageBackoff
		}
	}
}
