package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const shellPipeline = `id: web
stages:
  - name: test
    action: shell
    run: echo hello
  - name: package
    action: shell
    run: echo packaged
    needs: [test]
`

const failingPipeline = `id: web
stages:
  - name: test
    action: shell
    run: exit 3
  - name: package
    action: shell
    run: echo packaged
    needs: [test]
`

const serverPipeline = `id: web
servers:
  - name: web-runner
    firewall:
      - protocol: tcp
        port: "22"
        source_ips: ["0.0.0.0/0"]
targets:
  - name: web
stages:
  - name: gate
    action: gate
    target: web-runner
  - name: deploy
    action: deploy
    target: web
    needs: [gate]
`

// writePipeline writes a pipeline file into a fresh directory.
func writePipeline(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipyard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// swap replaces *ptr for the duration of the test.
func swap[T any](t *testing.T, ptr *T, v T) {
	t.Helper()
	orig := *ptr
	*ptr = v
	t.Cleanup(func() { *ptr = orig })
}
