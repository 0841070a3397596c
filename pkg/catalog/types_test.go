package catalog

import "testing"

func TestRiskLevel_Escalate(t *testing.T) {
	tests := []struct {
		in, want RiskLevel
	}{
		{RiskSafe, RiskModerate},
		{RiskModerate, RiskHigh},
		{RiskHigh, RiskHigh},
		{RiskCritical, RiskCritical},
		{RiskUnknown, RiskUnknown},
	}
	for _, tt := range tests {
		if got := tt.in.Escalate(); got != tt.want {
			t.Errorf("Escalate(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRiskLevel_AtLeast(t *testing.T) {
	if !RiskCritical.AtLeast(RiskHigh) {
		t.Error("critical should be at least high")
	}
	if RiskSafe.AtLeast(RiskModerate) {
		t.Error("safe should not be at least moderate")
	}
	if RiskUnknown.AtLeast(RiskSafe) {
		t.Error("unknown should compare below everything")
	}
	if !RiskSafe.AtLeast(RiskUnknown) {
		t.Error("any ranked level should be at least unknown")
	}
}

func TestDependencyType_MoreRestrictive(t *testing.T) {
	if !DepRuntime.MoreRestrictive(DepDev) {
		t.Error("runtime should outrank dev")
	}
	if !DepDev.MoreRestrictive(DepPeer) {
		t.Error("dev should outrank peer")
	}
	if DepPeer.MoreRestrictive(DepRuntime) {
		t.Error("peer should not outrank runtime")
	}
	if DepRuntime.MoreRestrictive(DepRuntime) {
		t.Error("equal types are not more restrictive")
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  HTTPS://github.com/Owner/Repo  ", "https://github.com/Owner/Repo"},
		{"NPM://@Scope/Pkg", "npm://@Scope/Pkg"},
		{"plain-coordinate", "plain-coordinate"},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
