package deploy

import (
	"context"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/imamik/shipyard/internal/failure"
)

// Revision is one entry of a Deployment's rollout history.
type Revision struct {
	Number      int64  `json:"number"`
	ReplicaSet  string `json:"replicaSet"`
	Image       string `json:"image"`
	ChangeCause string `json:"changeCause,omitempty"`
	Current     bool   `json:"current"`
}

// ownedReplicaSets lists the ReplicaSets controlled by dep.
func (d *Driver) ownedReplicaSets(ctx context.Context, dep *appsv1.Deployment) ([]appsv1.ReplicaSet, error) {
	selector, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector on %s: %w", dep.Name, err)
	}
	list, err := d.client.AppsV1().ReplicaSets(dep.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to list replica sets of %s: %w", dep.Name, err)
	}

	var owned []appsv1.ReplicaSet
	for _, rs := range list.Items {
		if metav1.IsControlledBy(&rs, dep) {
			owned = append(owned, rs)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return revisionOf(owned[i].Annotations) < revisionOf(owned[j].Annotations)
	})
	return owned, nil
}

// findRevision returns the ReplicaSet carrying toRevision, or the newest
// revision older than the Deployment's current one when toRevision is nil.
func (d *Driver) findRevision(ctx context.Context, dep *appsv1.Deployment, toRevision *int64) (*appsv1.ReplicaSet, error) {
	owned, err := d.ownedReplicaSets(ctx, dep)
	if err != nil {
		return nil, err
	}
	current := revisionOf(dep.Annotations)

	var found *appsv1.ReplicaSet
	for i := range owned {
		rev := revisionOf(owned[i].Annotations)
		if toRevision != nil {
			if rev == *toRevision {
				found = &owned[i]
			}
			continue
		}
		if rev < current {
			found = &owned[i]
		}
	}

	switch {
	case found != nil:
		return found, nil
	case toRevision != nil:
		return nil, failure.New(failure.KindInvalidDefinition, "rollback",
			fmt.Errorf("revision %d not found for %s/%s", *toRevision, dep.Namespace, dep.Name))
	default:
		return nil, failure.New(failure.KindInvalidDefinition, "rollback",
			fmt.Errorf("no revision before %d for %s/%s", current, dep.Namespace, dep.Name))
	}
}

// History lists the target's revisions, oldest first.
func (d *Driver) History(ctx context.Context, namespace, deployment, container string) ([]Revision, error) {
	dep, err := d.client.AppsV1().Deployments(namespace).Get(ctx, deployment, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, deployment, err)
	}
	owned, err := d.ownedReplicaSets(ctx, dep)
	if err != nil {
		return nil, err
	}

	current := revisionOf(dep.Annotations)
	out := make([]Revision, 0, len(owned))
	for _, rs := range owned {
		r := Revision{
			Number:      revisionOf(rs.Annotations),
			ReplicaSet:  rs.Name,
			ChangeCause: rs.Annotations[changeCauseAnnotation],
		}
		r.Current = r.Number == current
		if c := findContainer(rs.Spec.Template.Spec.Containers, container); c != nil {
			r.Image = c.Image
		}
		out = append(out, r)
	}
	return out, nil
}
