// Package security defines the permission model: the policy data types and
// the validator that checks declared capabilities against policy ceilings
// before any execution or surface-mutation grant is issued.
package security

import "time"

// ExecutionMode controls how untrusted script content may execute.
type ExecutionMode string

const (
	ExecutionNone      ExecutionMode = "none"
	ExecutionSandboxed ExecutionMode = "sandboxed"
	ExecutionTrusted   ExecutionMode = "trusted"
)

// DOMAccess is an ordinal capability: none < read < write.
type DOMAccess string

const (
	DOMAccessNone  DOMAccess = "none"
	DOMAccessRead  DOMAccess = "read"
	DOMAccessWrite DOMAccess = "write"
)

// Rank returns the ordinal position of the access level. Unknown levels rank
// below none so malformed input can never widen a grant.
func (a DOMAccess) Rank() int {
	switch a {
	case DOMAccessNone:
		return 0
	case DOMAccessRead:
		return 1
	case DOMAccessWrite:
		return 2
	default:
		return -1
	}
}

// Allows reports whether a grant at this level satisfies the requested level.
func (a DOMAccess) Allows(requested DOMAccess) bool {
	return requested.Rank() >= 0 && requested.Rank() <= a.Rank()
}

// ModulePermissions declares resource ceilings and capabilities for a
// compiled interactive module.
type ModulePermissions struct {
	MemoryLimit     uint64        `json:"memory_limit"` // bytes
	CPUTimeLimit    time.Duration `json:"cpu_time_limit"`
	AllowNetworking bool          `json:"allow_networking"`
	AllowFileSystem bool          `json:"allow_file_system"`
	AllowedImports  []string      `json:"allowed_imports,omitempty"`
}

// ScriptPermissions declares what embedded script content may do.
type ScriptPermissions struct {
	ExecutionMode ExecutionMode `json:"execution_mode"`
	AllowedAPIs   []string      `json:"allowed_apis,omitempty"`
	DOMAccess     DOMAccess     `json:"dom_access"`
}

// NetworkPolicy restricts outbound connectivity.
type NetworkPolicy struct {
	AllowOutbound bool     `json:"allow_outbound"`
	AllowedHosts  []string `json:"allowed_hosts,omitempty"`
	AllowedPorts  []int    `json:"allowed_ports,omitempty"`
}

// StoragePolicy restricts persistent storage.
type StoragePolicy struct {
	AllowLocal bool  `json:"allow_local"`
	QuotaBytes int64 `json:"quota_bytes,omitempty"`
}

// SecurityPolicy is the permission envelope for one rendered document.
// It is immutable once a session starts.
type SecurityPolicy struct {
	Module                ModulePermissions `json:"module_permissions"`
	Script                ScriptPermissions `json:"script_permissions"`
	Network               NetworkPolicy     `json:"network_policy"`
	Storage               StoragePolicy     `json:"storage_policy"`
	ContentSecurityPolicy string            `json:"content_security_policy,omitempty"`
	TrustedDomains        []string          `json:"trusted_domains,omitempty"`
}

// RestrictivePolicy returns the default-deny policy: static rendering only,
// no networking, no storage, minimal module budget.
func RestrictivePolicy() SecurityPolicy {
	return SecurityPolicy{
		Module: ModulePermissions{
			MemoryLimit:  16 << 20,
			CPUTimeLimit: time.Second,
		},
		Script: ScriptPermissions{
			ExecutionMode: ExecutionNone,
			DOMAccess:     DOMAccessNone,
		},
	}
}

// InteractivePolicy returns a policy suitable for sandboxed interactive
// documents: scripts run contained, surface writes allowed, no networking.
func InteractivePolicy() SecurityPolicy {
	return SecurityPolicy{
		Module: ModulePermissions{
			MemoryLimit:  64 << 20,
			CPUTimeLimit: 5 * time.Second,
		},
		Script: ScriptPermissions{
			ExecutionMode: ExecutionSandboxed,
			DOMAccess:     DOMAccessWrite,
		},
	}
}
