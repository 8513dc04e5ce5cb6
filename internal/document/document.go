// Package document defines the input collaborator shape for rendering: the
// manifest, content, bundled modules, and integrity signatures. Documents
// arrive as already-parsed objects; this package validates them and gates on
// signatures, it never reads container files.
package document

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/livdocs/engine/internal/sandbox"
	"github.com/livdocs/engine/internal/security"
)

var (
	// ErrValidationFailed covers structural problems with a document.
	ErrValidationFailed = errors.New("document validation failed")
	// ErrSecurityFailed covers signature absence or mismatch in strict mode.
	ErrSecurityFailed = errors.New("document security check failed")
)

// Manifest describes a document and carries its security policy.
type Manifest struct {
	Version   string                  `json:"version"`
	Title     string                  `json:"title,omitempty"`
	Metadata  map[string]string       `json:"metadata,omitempty"`
	Security  security.SecurityPolicy `json:"security"`
	Resources []string                `json:"resources,omitempty"`
}

// InteractiveSpec names the interactive entry point of a document.
type InteractiveSpec struct {
	ModuleName    string         `json:"module_name,omitempty"`
	EntryFunction string         `json:"entry_function,omitempty"`
	Script        string         `json:"script,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// Content is the renderable payload.
type Content struct {
	HTML           string           `json:"html"`
	CSS            string           `json:"css,omitempty"`
	Interactive    *InteractiveSpec `json:"interactive,omitempty"`
	StaticFallback string           `json:"static_fallback,omitempty"`
}

// Module bundles a compiled module with its descriptor.
type Module struct {
	Descriptor sandbox.ModuleDescriptor `json:"descriptor"`
	Data       []byte                   `json:"data"`
}

// Signature is one detached ed25519 signature over the content digest.
type Signature struct {
	KeyID     string `json:"key_id,omitempty"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Document is one renderable unit.
type Document struct {
	Manifest   Manifest          `json:"manifest"`
	Content    Content           `json:"content"`
	Assets     map[string][]byte `json:"assets,omitempty"`
	Modules    []Module          `json:"modules,omitempty"`
	Signatures []Signature       `json:"signatures,omitempty"`
}

// Validate checks structural invariants, and in strict mode additionally
// requires at least one verifying signature. Strict-mode failures happen
// before any content reaches a boundary.
func (d *Document) Validate(strict bool) error {
	if d.Manifest.Version == "" {
		return fmt.Errorf("%w: manifest version missing", ErrValidationFailed)
	}
	if d.Content.HTML == "" && d.Content.StaticFallback == "" {
		return fmt.Errorf("%w: no renderable content", ErrValidationFailed)
	}
	for i, module := range d.Modules {
		if module.Descriptor.Name == "" {
			return fmt.Errorf("%w: module %d has no name", ErrValidationFailed, i)
		}
		if len(module.Data) == 0 {
			return fmt.Errorf("%w: module %s has no data", ErrValidationFailed, module.Descriptor.Name)
		}
	}
	if spec := d.Content.Interactive; spec != nil && spec.ModuleName != "" {
		if !d.hasModule(spec.ModuleName) {
			return fmt.Errorf("%w: interactive spec references unknown module %s",
				ErrValidationFailed, spec.ModuleName)
		}
	}

	if strict {
		if len(d.Signatures) == 0 {
			return fmt.Errorf("%w: strict mode requires signatures", ErrSecurityFailed)
		}
		if err := d.VerifySignatures(); err != nil {
			return err
		}
	}
	return nil
}

// VerifySignatures checks every attached signature against the content
// digest. All of them must verify.
func (d *Document) VerifySignatures() error {
	digest := d.ContentDigest()
	for i, sig := range d.Signatures {
		if len(sig.PublicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: signature %d has a malformed public key", ErrSecurityFailed, i)
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey), digest, sig.Signature) {
			return fmt.Errorf("%w: signature %d does not verify", ErrSecurityFailed, i)
		}
	}
	return nil
}

// ContentDigest is the canonical digest signatures cover: manifest version,
// content fields, and module bytes in bundle order.
func (d *Document) ContentDigest() []byte {
	h := sha256.New()
	h.Write([]byte(d.Manifest.Version))
	h.Write([]byte{0})
	h.Write([]byte(d.Content.HTML))
	h.Write([]byte{0})
	h.Write([]byte(d.Content.CSS))
	h.Write([]byte{0})
	h.Write([]byte(d.Content.StaticFallback))
	h.Write([]byte{0})
	for _, module := range d.Modules {
		h.Write([]byte(module.Descriptor.Name))
		h.Write([]byte{0})
		h.Write(module.Data)
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// HasInteractive reports whether the document declares interactive content.
func (d *Document) HasInteractive() bool {
	return d.Content.Interactive != nil &&
		(d.Content.Interactive.ModuleName != "" || d.Content.Interactive.Script != "")
}

func (d *Document) hasModule(name string) bool {
	for _, module := range d.Modules {
		if module.Descriptor.Name == name {
			return true
		}
	}
	return false
}
