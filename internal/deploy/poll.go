package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/imamik/shipyard/internal/config"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
)

// availabilityFloor is the number of ready replicas a rolling update is
// allowed to fall to: desired minus maxUnavailable, rounded like the
// deployment controller does.
func availabilityFloor(desired int32, maxUnavailable string) int32 {
	v := intstr.Parse(maxUnavailable)
	unavailable, err := intstr.GetScaledValueFromIntOrPercent(&v, int(desired), false)
	if err != nil {
		unavailable = 0
	}
	floor := desired - int32(unavailable)
	if floor < 0 {
		floor = 0
	}
	return floor
}

// follow polls the Deployment every PollInterval until the rollout is
// Healthy, Degraded or the target's timeout elapses.
func (d *Driver) follow(ctx context.Context, op string, target config.DeployTarget, res *RolloutResult) (*RolloutResult, error) {
	d.enter(res, StateRollingOut)

	pollCtx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	floor := availabilityFloor(target.DesiredReplicas(), target.MaxUnavailable)
	reachedFloor := false
	var lastErr error

	ticker := time.NewTicker(target.PollInterval)
	defer ticker.Stop()

	for {
		dep, err := d.client.AppsV1().Deployments(target.Namespace).Get(pollCtx, target.Deployment, metav1.GetOptions{})
		if err == nil {
			lastErr = nil
			st := observeStatus(dep, target.Container)
			res.Replicas = st
			d.observer.Event(observe.Event{
				Type:     observe.EventRolloutProgress,
				Resource: res.Target,
				Message:  fmt.Sprintf("%d/%d replicas ready, %d updated, %d available", st.Ready, st.Desired, st.Updated, st.Available),
				Fields: map[string]string{
					"ready":   fmt.Sprint(st.Ready),
					"desired": fmt.Sprint(st.Desired),
				},
			})

			switch {
			case st.Complete():
				return d.finish(res, StateHealthy, nil)
			case st.DeadlineExceeded:
				return d.finish(res, StateDegraded, failure.New(failure.KindRolloutDegraded, op,
					fmt.Errorf("%s: progress deadline exceeded with %d/%d replicas ready", res.Target, st.Ready, st.Desired)))
			case reachedFloor && st.Ready < floor:
				return d.finish(res, StateDegraded, failure.New(failure.KindRolloutDegraded, op,
					fmt.Errorf("%s: ready replicas dropped to %d, below the availability floor of %d", res.Target, st.Ready, floor)))
			}
			if st.Ready >= floor {
				reachedFloor = true
			}
		} else if pollCtx.Err() == nil {
			lastErr = err
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				res.Finished = time.Now()
				return res, failure.New(failure.KindCancelled, op, ctx.Err())
			}
			reason := fmt.Errorf("%s: %d/%d replicas ready after %s", res.Target, res.Replicas.Ready, res.Replicas.Desired, target.Timeout)
			if lastErr != nil {
				reason = errors.Join(reason, fmt.Errorf("last read failed: %w", lastErr))
			}
			return d.finish(res, StateTimedOut, failure.New(failure.KindRolloutTimedOut, op, reason))
		case <-ticker.C:
		}
	}
}

func (d *Driver) finish(res *RolloutResult, s State, err error) (*RolloutResult, error) {
	d.enter(res, s)
	res.Finished = time.Now()
	return res, err
}
