package security

import (
	"errors"
	"testing"
	"time"
)

func TestValidateModuleCeilings(t *testing.T) {
	policy := SecurityPolicy{
		Module: ModulePermissions{
			MemoryLimit:  64 << 20,
			CPUTimeLimit: 2 * time.Second,
		},
	}
	v := NewValidator()

	tests := []struct {
		name      string
		requested ModulePermissions
		wantDeny  bool
	}{
		{
			name:      "within ceilings",
			requested: ModulePermissions{MemoryLimit: 32 << 20, CPUTimeLimit: time.Second},
			wantDeny:  false,
		},
		{
			name:      "equal to ceilings",
			requested: ModulePermissions{MemoryLimit: 64 << 20, CPUTimeLimit: 2 * time.Second},
			wantDeny:  false,
		},
		{
			name:      "memory over ceiling",
			requested: ModulePermissions{MemoryLimit: 128 << 20},
			wantDeny:  true,
		},
		{
			name:      "cpu over ceiling",
			requested: ModulePermissions{CPUTimeLimit: 10 * time.Second},
			wantDeny:  true,
		},
		{
			name:      "networking not granted",
			requested: ModulePermissions{AllowNetworking: true},
			wantDeny:  true,
		},
		{
			name:      "filesystem not granted",
			requested: ModulePermissions{AllowFileSystem: true},
			wantDeny:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateModule(tt.requested, policy)
			if (err != nil) != tt.wantDeny {
				t.Errorf("ValidateModule() error = %v, wantDeny %v", err, tt.wantDeny)
			}
			if tt.wantDeny {
				var denied *PolicyDeniedError
				if !errors.As(err, &denied) {
					t.Errorf("expected PolicyDeniedError, got %T", err)
				} else if denied.Reason == "" {
					t.Error("denial must carry a specific reason")
				}
			}
		})
	}
}

func TestValidateModuleImports(t *testing.T) {
	v := NewValidator()
	policy := SecurityPolicy{
		Module: ModulePermissions{
			MemoryLimit:    64 << 20,
			CPUTimeLimit:   time.Second,
			AllowedImports: []string{"charting", "layout"},
		},
	}

	ok := ModulePermissions{AllowedImports: []string{"charting"}}
	if err := v.ValidateModule(ok, policy); err != nil {
		t.Errorf("subset imports should pass: %v", err)
	}

	bad := ModulePermissions{AllowedImports: []string{"charting", "network"}}
	if err := v.ValidateModule(bad, policy); err == nil {
		t.Error("import outside allowlist must be denied")
	}

	noneAllowed := SecurityPolicy{Module: ModulePermissions{MemoryLimit: 64 << 20, CPUTimeLimit: time.Second}}
	if err := v.ValidateModule(ok, noneAllowed); err == nil {
		t.Error("imports requested against empty allowlist must be denied")
	}
}

func TestValidateScriptOrdinal(t *testing.T) {
	v := NewValidator()
	policy := SecurityPolicy{
		Script: ScriptPermissions{
			ExecutionMode: ExecutionSandboxed,
			DOMAccess:     DOMAccessRead,
		},
	}

	tests := []struct {
		name      string
		requested ScriptPermissions
		wantDeny  bool
	}{
		{"none mode under sandboxed", ScriptPermissions{ExecutionMode: ExecutionNone, DOMAccess: DOMAccessNone}, false},
		{"read access granted", ScriptPermissions{ExecutionMode: ExecutionSandboxed, DOMAccess: DOMAccessRead}, false},
		{"write exceeds read", ScriptPermissions{ExecutionMode: ExecutionSandboxed, DOMAccess: DOMAccessWrite}, true},
		{"trusted exceeds sandboxed", ScriptPermissions{ExecutionMode: ExecutionTrusted, DOMAccess: DOMAccessNone}, true},
		{"unknown mode denied", ScriptPermissions{ExecutionMode: ExecutionMode("root"), DOMAccess: DOMAccessNone}, true},
		{"unknown access denied", ScriptPermissions{ExecutionMode: ExecutionNone, DOMAccess: DOMAccess("admin")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateScript(tt.requested, policy)
			if (err != nil) != tt.wantDeny {
				t.Errorf("ValidateScript() error = %v, wantDeny %v", err, tt.wantDeny)
			}
		})
	}
}

func TestCheckNetwork(t *testing.T) {
	v := NewValidator()

	denyAll := SecurityPolicy{}
	if err := v.CheckNetwork("example.com", 443, denyAll); err == nil {
		t.Error("outbound must be denied when not granted")
	}

	scoped := SecurityPolicy{
		Network: NetworkPolicy{
			AllowOutbound: true,
			AllowedHosts:  []string{"api.example.com"},
			AllowedPorts:  []int{443},
		},
	}
	if err := v.CheckNetwork("api.example.com", 443, scoped); err != nil {
		t.Errorf("allowed host/port should pass: %v", err)
	}
	if err := v.CheckNetwork("evil.example.com", 443, scoped); err == nil {
		t.Error("host outside allowlist must be denied")
	}
	if err := v.CheckNetwork("api.example.com", 80, scoped); err == nil {
		t.Error("port outside allowlist must be denied")
	}
}

func TestDOMAccessRank(t *testing.T) {
	if !DOMAccessWrite.Allows(DOMAccessRead) {
		t.Error("write grant must allow read")
	}
	if DOMAccessRead.Allows(DOMAccessWrite) {
		t.Error("read grant must not allow write")
	}
	if DOMAccessNone.Allows(DOMAccessRead) {
		t.Error("none grant must not allow read")
	}
	if DOMAccessWrite.Allows(DOMAccess("owner")) {
		t.Error("unknown level must never be allowed")
	}
}
