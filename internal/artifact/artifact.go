// Package artifact builds container images from a source tree through the
// Docker Engine API.
//
// A build produces exactly two tags, the versioned <image>:<buildNumber> and
// the floating <image>:latest. If the second tag cannot be applied the first
// is removed again, so a failed build never leaves a half-tagged image.
package artifact

import (
	"strconv"
)

// LatestTag is the floating tag applied to every successful build.
const LatestTag = "latest"

// Artifact is a built image.
type Artifact struct {
	// Image is the normalized repository name without tag.
	Image       string `json:"image"`
	BuildNumber int    `json:"buildNumber"`
	// VersionedRef is <image>:<buildNumber>.
	VersionedRef string `json:"versionedRef"`
	// LatestRef is <image>:latest.
	LatestRef string `json:"latestRef"`
	// ImageID is the engine's content-addressed image id.
	ImageID string `json:"imageId"`
	// SourceDigest is the sha256 of the build context archive.
	SourceDigest string `json:"sourceDigest"`
	// RegistryDigest is the manifest digest once published.
	RegistryDigest string `json:"registryDigest,omitempty"`
}

// Refs returns the versioned and the latest reference, in push order.
func (a *Artifact) Refs() []string {
	return []string{a.VersionedRef, a.LatestRef}
}

// DeployRef is the reference a cluster should pull: the registry digest
// pinned onto the versioned tag when known, else the versioned tag.
func (a *Artifact) DeployRef() string {
	if a.RegistryDigest != "" {
		return a.VersionedRef + "@" + a.RegistryDigest
	}
	return a.VersionedRef
}

// SourceRef locates the build input.
type SourceRef struct {
	ContextDir string
	Dockerfile string
	BuildArgs  map[string]string
}

func versionedRef(image string, buildNumber int) string {
	return image + ":" + strconv.Itoa(buildNumber)
}
