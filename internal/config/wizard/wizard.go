package wizard

import (
	"context"
	"fmt"
	"slices"
)

// WizardResult holds all the answers from the interactive wizard.
type WizardResult struct {
	// Pipeline identity
	PipelineID    string
	TriggerPolicy string

	// Image
	ImageName   string
	Context     string
	Dockerfile  string
	TestCommand string

	// Stages holds the keys of the enabled optional stages.
	Stages []string

	// Deploy target (only used with the deploy stage)
	Namespace  string
	Deployment string
	Replicas   int
	OnDegraded string

	// Server (only used with the gate stage)
	ServerName string
	ServerType string
	Location   string
	ReadyPort  int

	// Run store
	StoreBackend string
	Bucket       string
}

// Has reports whether the optional stage key was selected.
func (r *WizardResult) Has(stage string) bool {
	return slices.Contains(r.Stages, stage)
}

// RunWizard runs the interactive pipeline wizard.
// The context is used for cancellation support (e.g., Ctrl+C).
func RunWizard(ctx context.Context) (*WizardResult, error) {
	result := &WizardResult{}

	if err := runIdentityGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if err := runImageGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}

	if err := runStagesGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("stages: %w", err)
	}

	if result.Has(StageTest) {
		if err := runTestGroup(ctx, result); err != nil {
			return nil, fmt.Errorf("test: %w", err)
		}
	}

	if result.Has(StageDeploy) {
		if err := runDeployGroup(ctx, result); err != nil {
			return nil, fmt.Errorf("deploy: %w", err)
		}
	}

	if result.Has(StageGate) {
		if err := runServerGroup(ctx, result); err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}

	if err := runStoreGroup(ctx, result); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return result, nil
}
