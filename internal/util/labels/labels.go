// Package labels builds the label sets shipyard stamps on the cloud servers,
// firewalls and volumes it provisions.
//
// Every managed resource carries the pipeline id and the managed-by marker,
// so teardown can select exactly what a pipeline created.
package labels

// Standard label keys. The shipyard.io prefix namespaces them away from
// user-supplied labels.
const (
	// KeyPipeline identifies the pipeline that owns a resource.
	KeyPipeline = "shipyard.io/pipeline"

	// KeyServer names the server spec a resource was created for.
	KeyServer = "shipyard.io/server"

	// KeyKind tells servers, firewalls, volumes and keys apart.
	KeyKind = "shipyard.io/kind"

	// KeyManagedBy identifies the management system.
	KeyManagedBy = "shipyard.io/managed-by"
)

// Kind values.
const (
	KindServer   = "server"
	KindFirewall = "firewall"
	KindVolume   = "volume"
	KindSSHKey   = "ssh-key"
)

// ManagedByShipyard is the value of KeyManagedBy on every resource shipyard creates.
const ManagedByShipyard = "shipyard"

// LabelBuilder provides a fluent interface for building resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a builder with the pipeline and manager pre-set.
func NewLabelBuilder(pipelineID string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyPipeline:  pipelineID,
			KeyManagedBy: ManagedByShipyard,
		},
	}
}

// WithServer adds the server spec name.
func (lb *LabelBuilder) WithServer(name string) *LabelBuilder {
	lb.labels[KeyServer] = name
	return lb
}

// WithKind adds the resource kind.
func (lb *LabelBuilder) WithKind(kind string) *LabelBuilder {
	lb.labels[KeyKind] = kind
	return lb
}

// Merge adds user labels. Reserved shipyard.io keys are never overwritten.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		if _, reserved := lb.labels[k]; reserved && isShipyardKey(k) {
			continue
		}
		lb.labels[k] = v
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

func isShipyardKey(k string) bool {
	return len(k) > len("shipyard.io/") && k[:len("shipyard.io/")] == "shipyard.io/"
}
