// Package deploy rolls artifacts out to Kubernetes Deployments and follows
// each rollout until it is healthy, times out or degrades.
//
// A rollout moves Applying → RollingOut → {Healthy | TimedOut | Degraded}.
// Completion is always decided from a fresh read of the Deployment; nothing
// is inferred from earlier observations except whether readiness has already
// reached the availability floor. The driver never rolls back on its own.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/yaml"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
)

// State is a rollout state.
type State string

const (
	StateApplying   State = "Applying"
	StateRollingOut State = "RollingOut"
	StateHealthy    State = "Healthy"
	StateTimedOut   State = "TimedOut"
	StateDegraded   State = "Degraded"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateHealthy || s == StateTimedOut || s == StateDegraded
}

// RolloutResult describes a finished (or abandoned) rollout.
type RolloutResult struct {
	Target       string        `json:"target"`
	Namespace    string        `json:"namespace"`
	Deployment   string        `json:"deployment"`
	Image        string        `json:"image"`
	State        State         `json:"state"`
	Transitions  []State       `json:"transitions"`
	Replicas     ReplicaStatus `json:"replicas"`
	RolledBackTo int64         `json:"rolledBackTo,omitempty"`
	Started      time.Time     `json:"started"`
	Finished     time.Time     `json:"finished"`
}

func (r *RolloutResult) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Driver applies and watches Deployments.
type Driver struct {
	client   kubernetes.Interface
	observer observe.Observer
}

// Option configures a Driver.
type Option func(*Driver)

// WithObserver reports state transitions and poll progress.
func WithObserver(o observe.Observer) Option {
	return func(d *Driver) {
		d.observer = observe.OrDiscard(o)
	}
}

// NewDriver creates a Driver using client.
func NewDriver(client kubernetes.Interface, opts ...Option) *Driver {
	d := &Driver{client: client, observer: observe.Discard}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy points target's container at art and waits for the rollout.
// A TimedOut rollout returns a RolloutTimedOut error and a Degraded one a
// RolloutDegraded error; the result is returned in both cases.
func (d *Driver) Deploy(ctx context.Context, target config.DeployTarget, art *artifact.Artifact) (*RolloutResult, error) {
	const op = "deploy"
	target = withDefaults(target)
	if art == nil {
		return nil, failure.New(failure.KindInvalidDefinition, op, errors.New("no artifact to deploy"))
	}

	res := d.newResult(target, art.DeployRef())
	d.enter(res, StateApplying)

	var desired *appsv1.Deployment
	if target.Manifest != "" {
		m, err := loadManifest(target.Manifest)
		if err != nil {
			return nil, failure.New(failure.KindInvalidDefinition, op, err)
		}
		desired = m
	}

	cause := fmt.Sprintf("shipyard build %d (%s)", art.BuildNumber, art.DeployRef())
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		return d.apply(ctx, target, desired, art.DeployRef(), cause)
	})
	if err != nil {
		return nil, d.applyError(ctx, op, target, err)
	}

	return d.follow(ctx, op, target, res)
}

// Rollback restores the pod template of an earlier revision and waits for
// the resulting rollout. A nil toRevision selects the revision before the
// current one.
func (d *Driver) Rollback(ctx context.Context, target config.DeployTarget, toRevision *int64) (*RolloutResult, error) {
	const op = "rollback"
	target = withDefaults(target)

	deployments := d.client.AppsV1().Deployments(target.Namespace)
	dep, err := deployments.Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		return nil, d.applyError(ctx, op, target, err)
	}

	rs, err := d.findRevision(ctx, dep, toRevision)
	if err != nil {
		return nil, err
	}
	rev := revisionOf(rs.Annotations)

	template := *rs.Spec.Template.DeepCopy()
	delete(template.Labels, appsv1.DefaultDeploymentUniqueLabelKey)

	image := ""
	if c := findContainer(template.Spec.Containers, target.Container); c != nil {
		image = c.Image
	}
	res := d.newResult(target, image)
	res.RolledBackTo = rev
	d.enter(res, StateApplying)

	err = retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := deployments.Get(ctx, target.Deployment, metav1.GetOptions{})
		if err != nil {
			return err
		}
		current.Spec.Template = template
		setAnnotation(&current.ObjectMeta, changeCauseAnnotation, fmt.Sprintf("shipyard rollback to revision %d", rev))
		_, err = deployments.Update(ctx, current, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return nil, d.applyError(ctx, op, target, err)
	}

	return d.follow(ctx, op, target, res)
}

// Status reads the target's Deployment once.
func (d *Driver) Status(ctx context.Context, target config.DeployTarget) (ReplicaStatus, error) {
	target = withDefaults(target)
	dep, err := d.client.AppsV1().Deployments(target.Namespace).Get(ctx, target.Deployment, metav1.GetOptions{})
	if err != nil {
		return ReplicaStatus{}, fmt.Errorf("failed to get deployment %s/%s: %w", target.Namespace, target.Deployment, err)
	}
	return observeStatus(dep, target.Container), nil
}

func (d *Driver) apply(ctx context.Context, target config.DeployTarget, manifest *appsv1.Deployment, image, cause string) error {
	deployments := d.client.AppsV1().Deployments(target.Namespace)

	current, err := deployments.Get(ctx, target.Deployment, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		dep := manifest
		if dep == nil {
			dep = minimalDeployment(target)
		} else {
			dep = dep.DeepCopy()
		}
		dep.Name = target.Deployment
		dep.Namespace = target.Namespace
		if err := mutate(dep, target, image, cause); err != nil {
			return err
		}
		_, err = deployments.Create(ctx, dep, metav1.CreateOptions{})
		return err
	case err != nil:
		return err
	}

	if manifest != nil {
		current.Spec = *manifest.Spec.DeepCopy()
		for k, v := range manifest.Labels {
			if current.Labels == nil {
				current.Labels = map[string]string{}
			}
			current.Labels[k] = v
		}
	}
	if err := mutate(current, target, image, cause); err != nil {
		return err
	}
	_, err = deployments.Update(ctx, current, metav1.UpdateOptions{})
	return err
}

// errInvalidTarget marks apply errors caused by the definition rather than
// the cluster.
var errInvalidTarget = errors.New("invalid deployment target")

func mutate(dep *appsv1.Deployment, target config.DeployTarget, image, cause string) error {
	c := findContainer(dep.Spec.Template.Spec.Containers, target.Container)
	if c == nil {
		return fmt.Errorf("%w: container %q not found in %s", errInvalidTarget, target.Container, target.Deployment)
	}
	c.Image = image

	replicas := target.DesiredReplicas()
	dep.Spec.Replicas = &replicas

	surge := intstr.Parse(target.MaxSurge)
	unavailable := intstr.Parse(target.MaxUnavailable)
	dep.Spec.Strategy = appsv1.DeploymentStrategy{
		Type: appsv1.RollingUpdateDeploymentStrategyType,
		RollingUpdate: &appsv1.RollingUpdateDeployment{
			MaxSurge:       &surge,
			MaxUnavailable: &unavailable,
		},
	}
	setAnnotation(&dep.ObjectMeta, changeCauseAnnotation, cause)
	return nil
}

func minimalDeployment(target config.DeployTarget) *appsv1.Deployment {
	labels := map[string]string{"app.kubernetes.io/name": target.Deployment}
	name := target.Container
	if name == "" {
		name = target.Deployment
	}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{
				"app.kubernetes.io/name":       target.Deployment,
				"app.kubernetes.io/managed-by": "shipyard",
			},
		},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: name}},
				},
			},
		},
	}
}

func loadManifest(path string) (*appsv1.Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var dep appsv1.Deployment
	if err := yaml.UnmarshalStrict(data, &dep); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if dep.Kind != "" && dep.Kind != "Deployment" {
		return nil, fmt.Errorf("manifest %s is a %s, not a Deployment", path, dep.Kind)
	}
	return &dep, nil
}

func setAnnotation(meta *metav1.ObjectMeta, key, value string) {
	if meta.Annotations == nil {
		meta.Annotations = map[string]string{}
	}
	meta.Annotations[key] = value
}

func (d *Driver) applyError(ctx context.Context, op string, target config.DeployTarget, err error) error {
	switch {
	case ctx.Err() != nil:
		return failure.New(failure.KindCancelled, op, ctx.Err())
	case errors.Is(err, errInvalidTarget), apierrors.IsInvalid(err):
		return failure.New(failure.KindInvalidDefinition, op, err)
	}
	return fmt.Errorf("%s %s/%s: %w", op, target.Namespace, target.Deployment, err)
}

func (d *Driver) newResult(target config.DeployTarget, image string) *RolloutResult {
	return &RolloutResult{
		Target:     target.Name,
		Namespace:  target.Namespace,
		Deployment: target.Deployment,
		Image:      image,
		Started:    time.Now(),
	}
}

func (d *Driver) enter(res *RolloutResult, s State) {
	res.transition(s)
	d.observer.Event(observe.Event{
		Type:     observe.EventRolloutState,
		Resource: res.Target,
		Message:  "rollout " + string(s),
		Fields: map[string]string{
			"state":      string(s),
			"deployment": res.Namespace + "/" + res.Deployment,
		},
	})
}

func withDefaults(t config.DeployTarget) config.DeployTarget {
	if t.Namespace == "" {
		t.Namespace = config.DefaultNamespace
	}
	if t.Deployment == "" {
		t.Deployment = t.Name
	}
	if t.MaxSurge == "" {
		t.MaxSurge = config.DefaultMaxSurge
	}
	if t.MaxUnavailable == "" {
		t.MaxUnavailable = config.DefaultMaxUnavailable
	}
	if t.PollInterval <= 0 {
		t.PollInterval = config.DefaultRolloutInterval
	}
	if t.Timeout <= 0 {
		t.Timeout = config.DefaultRolloutTimeout
	}
	return t
}
