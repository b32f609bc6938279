package wizard

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/distribution/reference"

	"github.com/imamik/shipyard/internal/config"
)

// nameRegex validates pipeline, deployment and server names.
var nameRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-_]{0,61}[a-z0-9])?$`)

// runIdentityGroup prompts for the pipeline id and trigger policy.
func runIdentityGroup(ctx context.Context, result *WizardResult) error {
	result.TriggerPolicy = string(config.TriggerReject)

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Pipeline ID").
				Description("Lowercase alphanumeric characters, '-' or '_'").
				Placeholder("my-service").
				Value(&result.PipelineID).
				Validate(validateName),
			huh.NewSelect[string]().
				Title("Overlapping Triggers").
				Description("What happens when a run is triggered while another is active").
				Options(TriggerPolicyOptions...).
				Value(&result.TriggerPolicy),
		).Title("Pipeline"),
	).RunWithContext(ctx)
}

// runImageGroup prompts for the image name and build inputs.
func runImageGroup(ctx context.Context, result *WizardResult) error {
	result.Context = config.DefaultBuildContext
	result.Dockerfile = config.DefaultDockerfile

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Image Name").
				Description("Repository to build and push, without a tag").
				Placeholder("ghcr.io/acme/my-service").
				Value(&result.ImageName).
				Validate(validateImageName),
			huh.NewInput().
				Title("Build Context").
				Value(&result.Context),
			huh.NewInput().
				Title("Dockerfile").
				Description("Relative to the build context").
				Value(&result.Dockerfile),
		).Title("Image"),
	).RunWithContext(ctx)
}

// runStagesGroup prompts for the optional stages.
func runStagesGroup(ctx context.Context, result *WizardResult) error {
	result.Stages = DefaultStages()

	return huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Stages").
				Description("The build stage is always included").
				Options(StagesToOptions(OptionalStages)...).
				Value(&result.Stages),
		).Title("Stages"),
	).RunWithContext(ctx)
}

// runTestGroup prompts for the test command.
func runTestGroup(ctx context.Context, result *WizardResult) error {
	result.TestCommand = "make test"

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Test Command").
				Description("Run with sh -c in the build context").
				Value(&result.TestCommand),
		).Title("Test"),
	).RunWithContext(ctx)
}

// runDeployGroup prompts for the deploy target.
func runDeployGroup(ctx context.Context, result *WizardResult) error {
	result.Namespace = config.DefaultNamespace
	result.Deployment = result.PipelineID
	result.OnDegraded = string(config.DegradedReport)
	replicas := "1"

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Namespace").
				Value(&result.Namespace).
				Validate(validateName),
			huh.NewInput().
				Title("Deployment").
				Value(&result.Deployment).
				Validate(validateName),
			huh.NewInput().
				Title("Replicas").
				Value(&replicas).
				Validate(validateReplicas),
			huh.NewSelect[string]().
				Title("Degraded Rollouts").
				Description("What happens when a rollout does not become fully available").
				Options(DegradedPolicyOptions...).
				Value(&result.OnDegraded),
		).Title("Deploy Target"),
	).RunWithContext(ctx)

	if err != nil {
		return err
	}

	result.Replicas, err = strconv.Atoi(strings.TrimSpace(replicas))
	return err
}

// runServerGroup prompts for the server the gate stage waits for.
func runServerGroup(ctx context.Context, result *WizardResult) error {
	result.ServerName = result.PipelineID + "-runner"
	result.ServerType = config.DefaultServerType
	result.Location = config.DefaultLocation
	port := "22"

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server Name").
				Value(&result.ServerName).
				Validate(validateName),
			huh.NewSelect[string]().
				Title("Server Type").
				Options(ServerTypesToOptions(ServerTypes)...).
				Value(&result.ServerType),
			huh.NewSelect[string]().
				Title("Location").
				Description("Hetzner Cloud datacenter").
				Options(LocationsToOptions()...).
				Value(&result.Location),
			huh.NewInput().
				Title("Ready Port").
				Description("TCP port that must accept connections").
				Value(&port).
				Validate(validatePort),
		).Title("Server"),
	).RunWithContext(ctx)

	if err != nil {
		return err
	}

	result.ReadyPort, err = strconv.Atoi(strings.TrimSpace(port))
	return err
}

// runStoreGroup prompts for where runs are recorded.
func runStoreGroup(ctx context.Context, result *WizardResult) error {
	result.StoreBackend = config.StoreFile

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Run Store").
				Description("Where run records and pipeline locks are kept").
				Options(StoreOptions...).
				Value(&result.StoreBackend),
		).Title("Run Store"),
	).RunWithContext(ctx)

	if err != nil || result.StoreBackend != config.StoreS3 {
		return err
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bucket").
				Value(&result.Bucket).
				Validate(validateBucket),
		).Title("S3 Store"),
	).RunWithContext(ctx)
}

// validateName validates pipeline, deployment and server names.
func validateName(s string) error {
	if s == "" {
		return errNameRequired
	}
	if !nameRegex.MatchString(s) {
		return errNameInvalid
	}
	return nil
}

// validateImageName accepts a repository reference without tag or digest.
func validateImageName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errImageRequired
	}
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil || !reference.IsNameOnly(named) {
		return errImageInvalid
	}
	return nil
}

func validateReplicas(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return errReplicasInvalid
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return errPortInvalid
	}
	return nil
}

func validateBucket(s string) error {
	if strings.TrimSpace(s) == "" {
		return errBucketRequired
	}
	return nil
}
