// Package registry publishes built artifacts to a container registry through
// the Docker Engine's login, push and distribution endpoints.
//
// Publishing authenticates first and pushes nothing when that fails. Each of
// the artifact's two tags is then pushed unless the registry already serves
// the digest recorded for the artifact. Only transient network-class errors
// are retried; explicit rejections are reported as PublishRejected.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	dockerclient "github.com/docker/docker/client"

	"github.com/imamik/shipyard/internal/artifact"
	"github.com/imamik/shipyard/internal/failure"
	"github.com/imamik/shipyard/internal/observe"
	"github.com/imamik/shipyard/internal/util/retry"
)

// Defaults for push retries.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Client is the subset of the Docker Engine API the publisher needs.
// *client.Client satisfies it.
type Client interface {
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	DistributionInspect(ctx context.Context, ref, encodedRegistryAuth string) (registry.DistributionInspect, error)
}

var _ Client = (*dockerclient.Client)(nil)

// TagResult reports what happened to one tag.
type TagResult struct {
	Ref      string `json:"ref"`
	Digest   string `json:"digest"`
	Pushed   bool   `json:"pushed"`
	Attempts int    `json:"attempts"`
}

// PublishResult is the outcome of a successful Publish.
type PublishResult struct {
	Registry string      `json:"registry"`
	Digest   string      `json:"digest"`
	Tags     []TagResult `json:"tags"`
}

// Publisher pushes artifacts.
type Publisher struct {
	client         Client
	observer       observe.Observer
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMaxRetries sets how many times a transient push failure is retried.
func WithMaxRetries(n int) Option {
	return func(p *Publisher) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the first and the maximum delay between push attempts.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(p *Publisher) {
		if initial > 0 {
			p.initialBackoff = initial
		}
		if maxDelay > 0 {
			p.maxBackoff = maxDelay
		}
	}
}

// WithObserver reports pushes, skips and retries.
func WithObserver(o observe.Observer) Option {
	return func(p *Publisher) {
		p.observer = observe.OrDiscard(o)
	}
}

// NewPublisher creates a Publisher on top of client.
func NewPublisher(client Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:         client,
		observer:       observe.Discard,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish authenticates and pushes both tags of art. On success
// art.RegistryDigest holds the manifest digest.
func (p *Publisher) Publish(ctx context.Context, art *artifact.Artifact, creds Credentials) (*PublishResult, error) {
	const op = "publish"

	if art == nil {
		return nil, failure.New(failure.KindInvalidDefinition, op, errors.New("no artifact to publish"))
	}
	if creds.ServerAddress == "" {
		server, err := ServerFor(art.Image)
		if err != nil {
			return nil, failure.New(failure.KindInvalidDefinition, op, err)
		}
		creds.ServerAddress = server
	}

	auth := creds.authConfig()
	if !creds.Anonymous() {
		resp, err := p.client.RegistryLogin(ctx, auth)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failure.New(failure.KindCancelled, op, err)
			}
			return nil, failure.New(failure.KindAuthFailure, op, fmt.Errorf("login to %s failed: %w", creds, err))
		}
		if resp.IdentityToken != "" {
			auth.IdentityToken = resp.IdentityToken
			auth.Password = ""
		}
	}
	encoded, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return nil, failure.New(failure.KindAuthFailure, op, fmt.Errorf("failed to encode credentials: %w", err))
	}

	result := &PublishResult{Registry: creds.ServerAddress}
	for _, ref := range art.Refs() {
		tr, err := p.publishTag(ctx, art, ref, encoded)
		if err != nil {
			return nil, err
		}
		result.Tags = append(result.Tags, tr)
		if art.RegistryDigest == "" {
			art.RegistryDigest = tr.Digest
		}
	}
	result.Digest = art.RegistryDigest
	return result, nil
}

func (p *Publisher) publishTag(ctx context.Context, art *artifact.Artifact, ref, encodedAuth string) (TagResult, error) {
	const op = "publish"
	tr := TagResult{Ref: ref}

	if art.RegistryDigest != "" {
		remote, err := p.client.DistributionInspect(ctx, ref, encodedAuth)
		if err == nil && remote.Descriptor.Digest.String() == art.RegistryDigest {
			tr.Digest = art.RegistryDigest
			p.observer.Event(observe.Event{
				Type:     observe.EventPublishSkip,
				Resource: ref,
				Message:  "registry already holds digest",
				Fields:   map[string]string{"digest": tr.Digest},
			})
			return tr, nil
		}
	}

	err := retry.WithExponentialBackoff(ctx, func() error {
		tr.Attempts++
		digest, err := p.push(ctx, ref, encodedAuth)
		if err != nil {
			return err
		}
		tr.Digest = digest
		return nil
	},
		retry.WithMaxRetries(p.maxRetries),
		retry.WithInitialDelay(p.initialBackoff),
		retry.WithMaxDelay(p.maxBackoff),
		retry.WithRetryIf(func(err error) bool { return classify(err) == classTransient }),
		retry.WithNotify(func(attempt int, err error, delay time.Duration) {
			p.observer.Event(observe.Event{
				Type:     observe.EventPublishRetry,
				Resource: ref,
				Message:  fmt.Sprintf("push attempt %d failed, retrying in %s", attempt, delay),
				Err:      err,
			})
		}),
	)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return tr, failure.New(failure.KindCancelled, op, err)
		case classify(err) == classRejected:
			return tr, failure.New(failure.KindPublishRejected, op, fmt.Errorf("registry rejected %s: %w", ref, err))
		default:
			return tr, failure.New(failure.KindPublishFailure, op, fmt.Errorf("push %s failed after %d attempt(s): %w", ref, tr.Attempts, err))
		}
	}

	tr.Pushed = true
	p.observer.Event(observe.Event{
		Type:     observe.EventPublishPushed,
		Resource: ref,
		Message:  "tag pushed",
		Fields:   map[string]string{"digest": tr.Digest},
	})
	return tr, nil
}

// pushMessage is one line of the engine's JSON push stream.
type pushMessage struct {
	Status string `json:"status"`
	Aux    *struct {
		Tag    string `json:"Tag"`
		Digest string `json:"Digest"`
		Size   int64  `json:"Size"`
	} `json:"aux"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (p *Publisher) push(ctx context.Context, ref, encodedAuth string) (string, error) {
	rc, err := p.client.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encodedAuth})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var digest string
	dec := json.NewDecoder(rc)
	for {
		var msg pushMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to parse push output: %w", err)
		}
		if msg.Error != "" {
			return "", &streamError{msg: msg.Error}
		}
		if msg.ErrorDetail != nil && msg.ErrorDetail.Message != "" {
			return "", &streamError{msg: msg.ErrorDetail.Message}
		}
		if msg.Aux != nil && msg.Aux.Digest != "" {
			digest = msg.Aux.Digest
		}
	}
	if digest == "" {
		return "", &streamError{msg: "push finished without a manifest digest: unexpected EOF"}
	}
	return digest, nil
}
