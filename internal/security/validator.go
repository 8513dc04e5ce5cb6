package security

// Validator checks declared capability sets against a policy before any
// execution or surface grant. It holds no mutable state and is safe for
// concurrent use.
type Validator struct{}

// NewValidator creates a permission validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateModule checks module-declared permissions against policy ceilings.
// Every numeric ceiling must be at or below the policy ceiling; every boolean
// capability must already be granted by the policy; declared imports must be
// a subset of the policy's allowed imports.
func (v *Validator) ValidateModule(requested ModulePermissions, policy SecurityPolicy) error {
	ceiling := policy.Module

	if requested.MemoryLimit > ceiling.MemoryLimit {
		return Denied("memory", "requested %d bytes exceeds ceiling %d bytes",
			requested.MemoryLimit, ceiling.MemoryLimit)
	}
	if requested.CPUTimeLimit > ceiling.CPUTimeLimit {
		return Denied("cpu_time", "requested %s exceeds ceiling %s",
			requested.CPUTimeLimit, ceiling.CPUTimeLimit)
	}
	if requested.AllowNetworking && !ceiling.AllowNetworking {
		return Denied("networking", "networking not granted by policy")
	}
	if requested.AllowFileSystem && !ceiling.AllowFileSystem {
		return Denied("filesystem", "filesystem access not granted by policy")
	}
	if err := v.validateImports(requested.AllowedImports, ceiling.AllowedImports); err != nil {
		return err
	}
	return nil
}

// ValidateScript checks script-declared capabilities against the policy.
// DOM access is compared on the ordinal scale none < read < write.
func (v *Validator) ValidateScript(requested ScriptPermissions, policy SecurityPolicy) error {
	granted := policy.Script

	if modeRank(requested.ExecutionMode) > modeRank(granted.ExecutionMode) {
		return Denied("execution_mode", "mode %q exceeds policy mode %q",
			requested.ExecutionMode, granted.ExecutionMode)
	}
	if !granted.DOMAccess.Allows(requested.DOMAccess) {
		return Denied("dom_access", "access %q exceeds policy access %q",
			requested.DOMAccess, granted.DOMAccess)
	}
	for _, api := range requested.AllowedAPIs {
		if !contains(granted.AllowedAPIs, api) {
			return Denied("api", "API %q not in policy allowlist", api)
		}
	}
	return nil
}

// CheckDOMAccess verifies the policy grants at least the requested access.
func (v *Validator) CheckDOMAccess(requested DOMAccess, policy SecurityPolicy) error {
	if !policy.Script.DOMAccess.Allows(requested) {
		return Denied("dom_access", "access %q exceeds policy access %q",
			requested, policy.Script.DOMAccess)
	}
	return nil
}

// CheckNetwork verifies the policy allows outbound access to host:port.
func (v *Validator) CheckNetwork(host string, port int, policy SecurityPolicy) error {
	np := policy.Network
	if !np.AllowOutbound {
		return Denied("network", "outbound access not granted by policy")
	}
	if len(np.AllowedHosts) > 0 && !contains(np.AllowedHosts, host) {
		return Denied("network", "host %q not in policy allowlist", host)
	}
	if len(np.AllowedPorts) > 0 && !containsInt(np.AllowedPorts, port) {
		return Denied("network", "port %d not in policy allowlist", port)
	}
	return nil
}

func (v *Validator) validateImports(requested, allowed []string) error {
	if len(requested) == 0 {
		return nil
	}
	if len(allowed) == 0 {
		return Denied("imports", "policy allows no imports, %d requested", len(requested))
	}
	for _, imp := range requested {
		if !contains(allowed, imp) {
			return Denied("imports", "import %q not in policy allowlist", imp)
		}
	}
	return nil
}

// modeRank orders execution modes by privilege. Unknown modes rank above
// trusted so they can never be granted.
func modeRank(m ExecutionMode) int {
	switch m {
	case ExecutionNone:
		return 0
	case ExecutionSandboxed:
		return 1
	case ExecutionTrusted:
		return 2
	default:
		return 3
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
