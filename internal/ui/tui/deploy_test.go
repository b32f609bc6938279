package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imamik/shipyard/internal/deploy"
)

func TestRenderHistory(t *testing.T) {
	out := RenderHistory("web", []deploy.Revision{
		{Number: 1, Image: "ghcr.io/imamik/web:1", ChangeCause: "build 1"},
		{Number: 2, Image: "ghcr.io/imamik/web:2", ChangeCause: "build 2", Current: true},
	})

	assert.Contains(t, out, "web revisions")
	assert.Contains(t, out, "REVISION")
	assert.Contains(t, out, "ghcr.io/imamik/web:1")
	assert.Contains(t, out, "build 2")
	assert.Contains(t, out, "*")
}

func TestRenderRollout(t *testing.T) {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	res := &deploy.RolloutResult{
		Target:       "web",
		Namespace:    "shop",
		Deployment:   "web",
		Image:        "ghcr.io/imamik/web:2",
		State:        deploy.StateHealthy,
		RolledBackTo: 2,
		Replicas:     deploy.ReplicaStatus{Desired: 3, Updated: 3, Ready: 3, Available: 3},
		Started:      start,
		Finished:     start.Add(90 * time.Second),
	}

	out := RenderRollout(res)

	assert.Contains(t, out, "shop/web")
	assert.Contains(t, out, string(deploy.StateHealthy))
	assert.Contains(t, out, "revision: 2")
	assert.Contains(t, out, "3 desired, 3 updated, 3 ready, 3 available")
	assert.Contains(t, out, "took 1m30s")

	res.RolledBackTo = 0
	res.Finished = time.Time{}
	out = RenderRollout(res)
	assert.NotContains(t, out, "revision:")
	assert.NotContains(t, out, "took")
}

func TestRenderReplicas(t *testing.T) {
	assert.Equal(t, "  replicas: 2 desired, 2 updated, 2 ready, 2 available\n",
		RenderReplicas(deploy.ReplicaStatus{Desired: 2, Updated: 2, Ready: 2, Available: 2}))
	assert.Contains(t, RenderReplicas(deploy.ReplicaStatus{Desired: 3, Unavailable: 1}), ", 1 unavailable")
}
