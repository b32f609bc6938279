package actions

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/registry"
)

const (
	builtImageID   = "sha256:feedface"
	manifestDigest = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
)

const buildStream = `{"stream":"Step 1/2 : FROM alpine\n"}
{"stream":"Step 2/2 : COPY . /app\n"}
{"aux":{"ID":"` + builtImageID + `"}}
`

const failedBuildStream = `{"stream":"Step 1/2 : FROM alpine\n"}
{"errorDetail":{"message":"RUN make: exit code 2"},"error":"RUN make: exit code 2"}
`

// fakeDocker stands in for both the build and the registry endpoints of
// the engine.
type fakeDocker struct {
	mu     sync.Mutex
	stream string
	builds int
	tags   [][2]string
	logins []dockerregistry.AuthConfig
	pushes []string
	remote map[string]string
}

var (
	_ artifact.Engine = (*fakeDocker)(nil)
	_ registry.Client = (*fakeDocker)(nil)
)

func newFakeDocker(stream string) *fakeDocker {
	return &fakeDocker{stream: stream, remote: map[string]string{}}
}

func (f *fakeDocker) ImageBuild(_ context.Context, r io.Reader, _ build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	_, _ = io.Copy(io.Discard, r)
	f.mu.Lock()
	f.builds++
	f.mu.Unlock()
	return build.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.stream))}, nil
}

func (f *fakeDocker) ImageTag(_ context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, [2]string{source, target})
	return nil
}

func (f *fakeDocker) ImageRemove(context.Context, string, image.RemoveOptions) ([]image.DeleteResponse, error) {
	return nil, nil
}

func (f *fakeDocker) RegistryLogin(_ context.Context, auth dockerregistry.AuthConfig) (dockerregistry.AuthenticateOKBody, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, auth)
	return dockerregistry.AuthenticateOKBody{Status: "Login Succeeded"}, nil
}

func (f *fakeDocker) ImagePush(_ context.Context, ref string, _ image.PushOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, ref)
	f.remote[ref] = manifestDigest
	return io.NopCloser(strings.NewReader(
		`{"status":"Pushed","progressDetail":{},"id":"5f70bf18a086"}` + "\n" +
			`{"progressDetail":{},"aux":{"Tag":"1","Digest":"` + manifestDigest + `","Size":528}}` + "\n")), nil
}

func (f *fakeDocker) DistributionInspect(_ context.Context, ref, _ string) (dockerregistry.DistributionInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.remote[ref]
	if !ok {
		return dockerregistry.DistributionInspect{}, errdefs.ErrNotFound
	}
	return dockerregistry.DistributionInspect{Descriptor: ocispec.Descriptor{Digest: digest.Digest(d)}}, nil
}

func (f *fakeDocker) pushed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes...)
}

var deploymentsGVR = appsv1.SchemeGroupVersion.WithResource("deployments")

// healthyCluster returns a clientset whose deployments always report every
// desired replica as rolled out.
func healthyCluster(objects ...runtime.Object) *fake.Clientset {
	cs := fake.NewSimpleClientset(objects...) //nolint:staticcheck // NewClientset requires applyconfigurations
	cs.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		get := action.(k8stesting.GetAction)
		obj, err := cs.Tracker().Get(deploymentsGVR, get.GetNamespace(), get.GetName())
		if err != nil {
			return true, nil, err
		}
		dep := obj.(*appsv1.Deployment).DeepCopy()
		n := int32(1)
		if dep.Spec.Replicas != nil {
			n = *dep.Spec.Replicas
		}
		dep.Status = appsv1.DeploymentStatus{
			ObservedGeneration: dep.Generation,
			Replicas:           n,
			UpdatedReplicas:    n,
			ReadyReplicas:      n,
			AvailableReplicas:  n,
		}
		return true, dep, nil
	})
	return cs
}
