package naming

import "fmt"

func Firewall(server string) string {
	return fmt.Sprintf("%s-firewall", server)
}

func Volume(server string) string {
	return fmt.Sprintf("%s-data", server)
}

func SSHKey(server string) string {
	return fmt.Sprintf("%s-key", server)
}

// PrivateKeyFile is the file a generated private key is written to.
func PrivateKeyFile(server string) string {
	return fmt.Sprintf("%s_id_rsa", server)
}

// RunObject is the store key of a run record.
func RunObject(runID string) string {
	return fmt.Sprintf("runs/%s.yaml", runID)
}

// CancelMarker is the store key of a persisted cancel request.
func CancelMarker(runID string) string {
	return fmt.Sprintf("runs/%s.cancel", runID)
}

// PipelineLock is the store key that holds a pipeline's single-flight lock.
func PipelineLock(pipelineID string) string {
	return fmt.Sprintf("locks/%s.lock", pipelineID)
}

// BuildCounter is the store key of a pipeline's last build number.
func BuildCounter(pipelineID string) string {
	return fmt.Sprintf("builds/%s", pipelineID)
}
