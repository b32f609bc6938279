package wizard

import (
	"github.com/charmbracelet/huh"

	"github.com/imamik/shipyard/internal/config"
)

// LocationOption represents a Hetzner Cloud datacenter location.
type LocationOption struct {
	Value       string
	Label       string
	Description string
}

// ServerTypeOption represents a Hetzner Cloud server type.
type ServerTypeOption struct {
	Value       string
	Label       string
	Description string
}

// Locations contains all valid Hetzner Cloud datacenter locations.
var Locations = []LocationOption{
	{Value: "nbg1", Label: "nbg1", Description: "Nuremberg, Germany"},
	{Value: "fsn1", Label: "fsn1", Description: "Falkenstein, Germany"},
	{Value: "hel1", Label: "hel1", Description: "Helsinki, Finland"},
	{Value: "ash", Label: "ash", Description: "Ashburn, USA"},
	{Value: "hil", Label: "hil", Description: "Hillsboro, USA"},
	{Value: "sin", Label: "sin", Description: "Singapore"},
}

// ServerTypes contains server types suited to build and test endpoints.
var ServerTypes = []ServerTypeOption{
	{Value: "cx22", Label: "cx22", Description: "2 vCPU, 4GB RAM (Intel)"},
	{Value: "cx32", Label: "cx32", Description: "4 vCPU, 8GB RAM (Intel)"},
	{Value: "cpx21", Label: "cpx21", Description: "3 vCPU, 4GB RAM (AMD)"},
	{Value: "cpx31", Label: "cpx31", Description: "4 vCPU, 8GB RAM (AMD)"},
	{Value: "cax21", Label: "cax21", Description: "4 vCPU, 8GB RAM (ARM)"},
	{Value: "ccx13", Label: "ccx13", Description: "2 vCPU, 8GB RAM (Dedicated)"},
}

// TriggerPolicyOptions contains the choices for overlapping triggers.
var TriggerPolicyOptions = []huh.Option[string]{
	huh.NewOption("Reject (Recommended)", string(config.TriggerReject)),
	huh.NewOption("Queue behind the active run", string(config.TriggerQueue)),
}

// DegradedPolicyOptions contains the choices for degraded rollouts.
var DegradedPolicyOptions = []huh.Option[string]{
	huh.NewOption("Report and fail the run", string(config.DegradedReport)),
	huh.NewOption("Roll back to the previous revision", string(config.DegradedRollback)),
}

// StoreOptions contains the run store backends.
var StoreOptions = []huh.Option[string]{
	huh.NewOption("Local directory (Recommended)", config.StoreFile),
	huh.NewOption("S3-compatible bucket", config.StoreS3),
}

// StageOption is an optional stage of the starter pipeline.
type StageOption struct {
	Key         string
	Label       string
	Description string
	Default     bool
}

// Stage keys offered by the wizard.
const (
	StageTest    = "test"
	StagePublish = "publish"
	StageDeploy  = "deploy"
	StageGate    = "gate"
)

// OptionalStages contains the stages around the mandatory build stage.
var OptionalStages = []StageOption{
	{Key: StageTest, Label: "Test", Description: "Run a shell command before building", Default: true},
	{Key: StagePublish, Label: "Publish", Description: "Push the image to its registry", Default: true},
	{Key: StageDeploy, Label: "Deploy", Description: "Roll the image out to a Kubernetes Deployment", Default: true},
	{Key: StageGate, Label: "Server gate", Description: "Wait for a Hetzner Cloud server before deploying", Default: false},
}

// LocationsToOptions converts LocationOption slice to huh.Option slice.
func LocationsToOptions() []huh.Option[string] {
	opts := make([]huh.Option[string], len(Locations))
	for i, loc := range Locations {
		opts[i] = huh.NewOption(loc.Label+" - "+loc.Description, loc.Value)
	}
	return opts
}

// ServerTypesToOptions converts ServerTypeOption slice to huh.Option slice.
func ServerTypesToOptions(types []ServerTypeOption) []huh.Option[string] {
	opts := make([]huh.Option[string], len(types))
	for i, st := range types {
		opts[i] = huh.NewOption(st.Label+" - "+st.Description, st.Value)
	}
	return opts
}

// StagesToOptions converts StageOption slice to huh.Option slice with defaults selected.
func StagesToOptions(stages []StageOption) []huh.Option[string] {
	opts := make([]huh.Option[string], len(stages))
	for i, s := range stages {
		opts[i] = huh.NewOption(s.Label+" - "+s.Description, s.Key).Selected(s.Default)
	}
	return opts
}

// DefaultStages returns the keys of stages enabled by default.
func DefaultStages() []string {
	var keys []string
	for _, s := range OptionalStages {
		if s.Default {
			keys = append(keys, s.Key)
		}
	}
	return keys
}
