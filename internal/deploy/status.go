package deploy

import (
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

const (
	// revisionAnnotation is maintained by the deployment controller on both
	// the Deployment and its ReplicaSets.
	revisionAnnotation = "deployment.kubernetes.io/revision"

	// changeCauseAnnotation shows up in "kubectl rollout history".
	changeCauseAnnotation = "kubernetes.io/change-cause"

	// progressDeadlineExceeded is the Progressing condition reason set when
	// the controller gives up on a rollout.
	progressDeadlineExceeded = "ProgressDeadlineExceeded"
)

// ReplicaStatus is one observation of a Deployment.
type ReplicaStatus struct {
	Desired            int32  `json:"desired"`
	Current            int32  `json:"current"`
	Updated            int32  `json:"updated"`
	Ready              int32  `json:"ready"`
	Available          int32  `json:"available"`
	Unavailable        int32  `json:"unavailable"`
	Generation         int64  `json:"generation"`
	ObservedGeneration int64  `json:"observedGeneration"`
	Revision           int64  `json:"revision"`
	Image              string `json:"image,omitempty"`
	DeadlineExceeded   bool   `json:"deadlineExceeded,omitempty"`
}

// Complete reports whether every desired replica runs the current template
// and is ready and available, with no old replicas left.
func (s ReplicaStatus) Complete() bool {
	return s.ObservedGeneration >= s.Generation &&
		s.Updated == s.Desired &&
		s.Ready == s.Desired &&
		s.Available == s.Desired &&
		s.Current == s.Desired
}

func observeStatus(dep *appsv1.Deployment, container string) ReplicaStatus {
	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	s := ReplicaStatus{
		Desired:            desired,
		Current:            dep.Status.Replicas,
		Updated:            dep.Status.UpdatedReplicas,
		Ready:              dep.Status.ReadyReplicas,
		Available:          dep.Status.AvailableReplicas,
		Unavailable:        dep.Status.UnavailableReplicas,
		Generation:         dep.Generation,
		ObservedGeneration: dep.Status.ObservedGeneration,
		Revision:           revisionOf(dep.Annotations),
	}
	if c := findContainer(dep.Spec.Template.Spec.Containers, container); c != nil {
		s.Image = c.Image
	}
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing &&
			cond.Status == corev1.ConditionFalse &&
			cond.Reason == progressDeadlineExceeded {
			s.DeadlineExceeded = true
		}
	}
	return s
}

func revisionOf(annotations map[string]string) int64 {
	v, err := strconv.ParseInt(annotations[revisionAnnotation], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// findContainer returns the named container, or the only container when
// name is empty.
func findContainer(containers []corev1.Container, name string) *corev1.Container {
	if name == "" && len(containers) == 1 {
		return &containers[0]
	}
	for i := range containers {
		if containers[i].Name == name {
			return &containers[i]
		}
	}
	return nil
}
