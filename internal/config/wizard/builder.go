package wizard

import (
	"strings"

	"github.com/imamik/shipyard/internal/config"
)

// BuildPipeline creates a pipeline definition from the wizard result.
// Values equal to their defaults are left unset so the written file stays short.
func BuildPipeline(result *WizardResult) *config.Pipeline {
	p := &config.Pipeline{
		ID:    result.PipelineID,
		Image: config.ImageConfig{Name: strings.TrimSpace(result.ImageName)},
	}

	if result.TriggerPolicy != "" && result.TriggerPolicy != string(config.TriggerReject) {
		p.TriggerPolicy = config.TriggerPolicy(result.TriggerPolicy)
	}
	if result.Context != "" && result.Context != config.DefaultBuildContext {
		p.Image.Context = result.Context
	}
	if result.Dockerfile != "" && result.Dockerfile != config.DefaultDockerfile {
		p.Image.Dockerfile = result.Dockerfile
	}
	if result.StoreBackend == config.StoreS3 {
		p.Store = config.StoreConfig{Backend: config.StoreS3, Bucket: result.Bucket}
	}

	var build config.Stage
	if result.Has(StageTest) && strings.TrimSpace(result.TestCommand) != "" {
		p.Stages = append(p.Stages, config.Stage{
			Name:   "test",
			Action: config.ActionShell,
			Run:    result.TestCommand,
			Dir:    p.Image.Context,
		})
		build.Needs = []string{"test"}
	}

	build.Name = "build"
	build.Action = config.ActionBuild
	p.Stages = append(p.Stages, build)
	last := "build"

	if result.Has(StagePublish) {
		p.Stages = append(p.Stages, config.Stage{
			Name:    "publish",
			Action:  config.ActionPublish,
			Needs:   []string{last},
			Retries: 1,
		})
		last = "publish"
	}

	deployNeeds := []string{last}
	if result.Has(StageGate) {
		p.Servers = append(p.Servers, buildServer(result))
		p.Stages = append(p.Stages, config.Stage{
			Name:   "gate",
			Action: config.ActionGate,
			Target: result.ServerName,
		})
		deployNeeds = append(deployNeeds, "gate")
	}

	if result.Has(StageDeploy) {
		p.Targets = append(p.Targets, buildTarget(result))
		p.Stages = append(p.Stages, config.Stage{
			Name:   "deploy",
			Action: config.ActionDeploy,
			Target: result.PipelineID,
			Needs:  deployNeeds,
		})
	}

	return p
}

func buildTarget(result *WizardResult) config.DeployTarget {
	t := config.DeployTarget{Name: result.PipelineID}
	if result.Namespace != "" && result.Namespace != config.DefaultNamespace {
		t.Namespace = result.Namespace
	}
	if result.Deployment != "" && result.Deployment != result.PipelineID {
		t.Deployment = result.Deployment
	}
	if result.Replicas != int(config.DefaultReplicas) {
		t.Replicas = int32Ptr(int32(result.Replicas))
	}
	if result.OnDegraded == string(config.DegradedRollback) {
		t.OnDegraded = config.DegradedRollback
	}
	return t
}

func buildServer(result *WizardResult) config.ServerSpec {
	s := config.ServerSpec{
		Name:      result.ServerName,
		ReadyPort: result.ReadyPort,
		Firewall: []config.FirewallRule{
			{Protocol: "tcp", Port: "22", SourceIPs: []string{"0.0.0.0/0", "::/0"}},
		},
	}
	if result.ServerType != config.DefaultServerType {
		s.ServerType = result.ServerType
	}
	if result.Location != config.DefaultLocation {
		s.Location = result.Location
	}
	return s
}

// int32Ptr returns a pointer to an int32 value.
func int32Ptr(v int32) *int32 {
	return &v
}
