// Package envinfo fingerprints the machine a cycle ran on. The snapshot
// is embedded verbatim into capsule and event records so strategies can
// later be correlated with the environment they worked in.
package envinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Snapshot describes the host at collection time.
type Snapshot struct {
	NodeID    string `json:"node_id"`
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	WorkDir   string `json:"work_dir"`
}

// Provider collects snapshots for one home directory. Construct one per
// service instance; the node id lives in a file under home, not in any
// package-level cache, so tests can hand each instance its own identity.
type Provider struct {
	home string
}

func NewProvider(home string) *Provider {
	return &Provider{home: home}
}

// Collect gathers the current host fingerprint. Missing pieces degrade to
// empty fields, never errors.
func (p *Provider) Collect() Snapshot {
	s := Snapshot{
		NodeID:    p.nodeID(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
	}
	if host, err := os.Hostname(); err == nil {
		s.Hostname = host
	}
	if wd, err := os.Getwd(); err == nil {
		s.WorkDir = wd
	}
	return s
}

// nodeID returns the persisted per-install identifier, generating and
// storing one on first use.
func (p *Provider) nodeID() string {
	path := filepath.Join(p.home, "node_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(p.home, 0o755); err != nil {
		return id
	}
	_ = os.WriteFile(path, []byte(id+"\n"), 0o644)
	return id
}
