package naming

import "testing"

func TestNamingFunctions(t *testing.T) {
	server := "web-1"

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "Firewall",
			got:      Firewall(server),
			expected: "web-1-firewall",
		},
		{
			name:     "Volume",
			got:      Volume(server),
			expected: "web-1-data",
		},
		{
			name:     "SSHKey",
			got:      SSHKey(server),
			expected: "web-1-key",
		},
		{
			name:     "PrivateKeyFile",
			got:      PrivateKeyFile(server),
			expected: "web-1_id_rsa",
		},
		{
			name:     "RunObject",
			got:      RunObject("6f1c"),
			expected: "runs/6f1c.yaml",
		},
		{
			name:     "CancelMarker",
			got:      CancelMarker("6f1c"),
			expected: "runs/6f1c.cancel",
		},
		{
			name:     "PipelineLock",
			got:      PipelineLock("shop"),
			expected: "locks/shop.lock",
		},
		{
			name:     "BuildCounter",
			got:      BuildCounter("shop"),
			expected: "builds/shop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}
