package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"

	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
)

// DefaultTailLines is how many build log lines a BuildFailure carries.
const DefaultTailLines = 20

// Engine is the subset of the Docker Engine API the builder needs.
// *client.Client satisfies it.
type Engine interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

var _ Engine = (*dockerclient.Client)(nil)

// NewDockerClient connects to the engine configured by DOCKER_HOST and friends.
func NewDockerClient() (*dockerclient.Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return cli, nil
}

// Builder builds and tags images.
type Builder struct {
	engine    Engine
	observer  observe.Observer
	tailLines int
}

// Option configures a Builder.
type Option func(*Builder)

// WithObserver streams build output as EventBuildLog events.
func WithObserver(o observe.Observer) Option {
	return func(b *Builder) {
		b.observer = observe.OrDiscard(o)
	}
}

// WithTailLines sets how many log lines a BuildFailure keeps.
func WithTailLines(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.tailLines = n
		}
	}
}

// NewBuilder creates a Builder on top of engine.
func NewBuilder(engine Engine, opts ...Option) *Builder {
	b := &Builder{
		engine:    engine,
		observer:  observe.Discard,
		tailLines: DefaultTailLines,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NormalizeImage validates an image repository name and returns its
// canonical form. Tags and digests are rejected; the builder owns tagging.
func NormalizeImage(name string) (string, error) {
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", name, err)
	}
	if _, tagged := named.(reference.Tagged); tagged {
		return "", fmt.Errorf("image name %q must not carry a tag", name)
	}
	if _, digested := named.(reference.Digested); digested {
		return "", fmt.Errorf("image name %q must not carry a digest", name)
	}
	return reference.FamiliarString(named), nil
}

// Build archives the source, builds it as <image>:<buildNumber> and tags the
// result <image>:latest.
func (b *Builder) Build(ctx context.Context, src SourceRef, imageName string, buildNumber int) (*Artifact, error) {
	const op = "build"

	img, err := NormalizeImage(imageName)
	if err != nil {
		return nil, failure.New(failure.KindInvalidDefinition, op, err)
	}
	if buildNumber <= 0 {
		return nil, failure.New(failure.KindInvalidDefinition, op, fmt.Errorf("build number must be positive, got %d", buildNumber))
	}

	dockerfile := src.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if _, err := os.Stat(filepath.Join(src.ContextDir, dockerfile)); err != nil {
		return nil, failure.New(failure.KindBuildFailure, op, fmt.Errorf("dockerfile not found in context: %w", err))
	}

	archive, digest, err := spoolContext(src.ContextDir)
	if err != nil {
		return nil, failure.New(failure.KindBuildFailure, op, err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	art := &Artifact{
		Image:        img,
		BuildNumber:  buildNumber,
		VersionedRef: versionedRef(img, buildNumber),
		LatestRef:    img + ":" + LatestTag,
		SourceDigest: digest,
	}

	args := make(map[string]*string, len(src.BuildArgs))
	for k, v := range src.BuildArgs {
		args[k] = &v
	}

	resp, err := b.engine.ImageBuild(ctx, archive, build.ImageBuildOptions{
		Tags:        []string{art.VersionedRef},
		Dockerfile:  filepath.ToSlash(dockerfile),
		BuildArgs:   args,
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			"io.shipyard.source-digest": digest,
		},
	})
	if err != nil {
		return nil, b.classify(ctx, op, fmt.Errorf("build request failed: %w", err), "")
	}
	defer resp.Body.Close()

	imageID, tail, err := b.readBuildOutput(resp.Body)
	if err != nil {
		return nil, b.classify(ctx, op, err, tail)
	}
	art.ImageID = imageID

	if err := b.engine.ImageTag(ctx, art.VersionedRef, art.LatestRef); err != nil {
		tagErr := fmt.Errorf("failed to tag %s: %w", art.LatestRef, err)
		if _, rmErr := b.engine.ImageRemove(context.WithoutCancel(ctx), art.VersionedRef, image.RemoveOptions{}); rmErr != nil {
			tagErr = errors.Join(tagErr, fmt.Errorf("failed to remove %s: %w", art.VersionedRef, rmErr))
		}
		return nil, b.classify(ctx, op, tagErr, tail)
	}

	b.observer.Event(observe.Event{
		Type:     observe.EventImageBuilt,
		Resource: art.VersionedRef,
		Message:  "image built",
		Fields: map[string]string{
			"imageId":      art.ImageID,
			"sourceDigest": art.SourceDigest,
		},
	})
	return art, nil
}

func (b *Builder) classify(ctx context.Context, op string, err error, tail string) error {
	if ctx.Err() != nil {
		return failure.WithOutput(failure.KindCancelled, op, errors.Join(ctx.Err(), err), tail)
	}
	return failure.WithOutput(failure.KindBuildFailure, op, err, tail)
}

// buildMessage is one line of the engine's JSON build stream.
type buildMessage struct {
	Stream string `json:"stream"`
	Status string `json:"status"`
	Aux    *struct {
		ID string `json:"ID"`
	} `json:"aux"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// readBuildOutput drains the build stream, forwarding log lines to the
// observer and keeping the last tailLines of them.
func (b *Builder) readBuildOutput(r io.Reader) (imageID string, tail string, err error) {
	ring := newLineRing(b.tailLines)
	dec := json.NewDecoder(r)

	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", ring.String(), fmt.Errorf("failed to parse build output: %w", err)
		}

		text := msg.Stream
		if text == "" {
			text = msg.Status
		}
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			ring.Add(line)
			b.observer.Event(observe.Event{Type: observe.EventBuildLog, Message: line})
		}

		if msg.Error != "" || msg.ErrorDetail != nil {
			m := msg.Error
			if m == "" {
				m = msg.ErrorDetail.Message
			}
			ring.Add(m)
			return "", ring.String(), fmt.Errorf("engine reported: %s", m)
		}
		if msg.Aux != nil && msg.Aux.ID != "" {
			imageID = msg.Aux.ID
		}
	}

	if imageID == "" {
		return "", ring.String(), errors.New("build finished without an image id")
	}
	return imageID, ring.String(), nil
}

// lineRing keeps the last n lines added.
type lineRing struct {
	lines []string
	next  int
	full  bool
}

func newLineRing(n int) *lineRing {
	return &lineRing{lines: make([]string, n)}
}

func (r *lineRing) Add(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *lineRing) String() string {
	if !r.full {
		return strings.Join(r.lines[:r.next], "\n")
	}
	out := append(append([]string{}, r.lines[r.next:]...), r.lines[:r.next]...)
	return strings.Join(out, "\n")
}
