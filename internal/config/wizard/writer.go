package wizard

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imamik/shipyard/internal/config"
)

// Function variable for dependency injection in tests.
var confirmOverwrite = defaultConfirmOverwrite

// WritePipeline writes the pipeline definition to a YAML file with a
// descriptive header. The definition is written as given, without defaults.
func WritePipeline(p *config.Pipeline, outputPath string) error {
	yamlBytes, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(generateHeader(p, outputPath))
	sb.WriteString("\n")
	sb.Write(yamlBytes)

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// generateHeader creates the YAML file header comment, listing the
// environment each configured component reads.
func generateHeader(p *config.Pipeline, outputPath string) string {
	var env []string
	for _, s := range p.Stages {
		switch s.Action {
		case config.ActionPublish:
			env = appendOnce(env, "#   SHIPYARD_REGISTRY_USERNAME / SHIPYARD_REGISTRY_PASSWORD - registry credentials")
		case config.ActionGate:
			env = appendOnce(env, "#   HCLOUD_TOKEN - Your Hetzner Cloud API token")
		case config.ActionDeploy, config.ActionRollback:
			env = appendOnce(env, "#   KUBECONFIG - kubeconfig of the target cluster")
		}
	}
	if p.Store.Backend == config.StoreS3 {
		env = appendOnce(env, "#   SHIPYARD_S3_ACCESS_KEY / SHIPYARD_S3_SECRET_KEY - run store bucket access")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `# shipyard pipeline definition
# Generated by: shipyard init
# Generated at: %s
`, time.Now().Format(time.RFC3339))
	if len(env) > 0 {
		sb.WriteString("#\n# Environment:\n")
		sb.WriteString(strings.Join(env, "\n"))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `#
# Usage:
#   shipyard validate -f %s
#   shipyard run -f %s
`, outputPath, outputPath)
	return sb.String()
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ConfirmOverwrite prompts the user to confirm overwriting an existing file.
func ConfirmOverwrite(path string) (bool, error) {
	return confirmOverwrite(path)
}

// defaultConfirmOverwrite is the default implementation that prompts via stdin.
func defaultConfirmOverwrite(path string) (bool, error) {
	fmt.Printf("\nFile already exists: %s\n", path)
	fmt.Print("Overwrite? (y/n): ")

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false, err
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}
