package envinfo

import (
	"runtime"
	"testing"
)

func TestCollect(t *testing.T) {
	p := NewProvider(t.TempDir())
	s := p.Collect()

	if s.NodeID == "" {
		t.Error("node id missing")
	}
	if s.OS != runtime.GOOS || s.Arch != runtime.GOARCH {
		t.Errorf("os/arch = %s/%s", s.OS, s.Arch)
	}
	if s.GoVersion == "" {
		t.Error("go version missing")
	}
}

func TestNodeIDPersists(t *testing.T) {
	home := t.TempDir()

	first := NewProvider(home).Collect().NodeID
	second := NewProvider(home).Collect().NodeID
	if first != second {
		t.Errorf("node id not stable across providers: %s vs %s", first, second)
	}

	other := NewProvider(t.TempDir()).Collect().NodeID
	if other == first {
		t.Error("distinct homes should get distinct node ids")
	}
}
