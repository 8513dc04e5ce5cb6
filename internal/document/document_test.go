package document

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/livdocs/engine/internal/sandbox"
	"github.com/livdocs/engine/internal/security"
)

func validDocument() *Document {
	return &Document{
		Manifest: Manifest{
			Version:  "1.0",
			Title:    "Report",
			Security: security.RestrictivePolicy(),
		},
		Content: Content{
			HTML:           `<p>Quarterly numbers</p>`,
			CSS:            `p { color: #222; }`,
			StaticFallback: `<p>Quarterly numbers (static)</p>`,
		},
	}
}

func signDocument(t *testing.T, doc *Document) ed25519.PublicKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	doc.Signatures = append(doc.Signatures, Signature{
		KeyID:     "test-key",
		PublicKey: pub,
		Signature: ed25519.Sign(priv, doc.ContentDigest()),
	})
	return pub
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr error
	}{
		{"valid", func(d *Document) {}, nil},
		{"missing version", func(d *Document) { d.Manifest.Version = "" }, ErrValidationFailed},
		{
			"no content at all",
			func(d *Document) { d.Content.HTML = ""; d.Content.StaticFallback = "" },
			ErrValidationFailed,
		},
		{
			"module without data",
			func(d *Document) {
				d.Modules = []Module{{Descriptor: sandbox.ModuleDescriptor{Name: "m"}}}
			},
			ErrValidationFailed,
		},
		{
			"interactive references missing module",
			func(d *Document) {
				d.Content.Interactive = &InteractiveSpec{ModuleName: "ghost"}
			},
			ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			err := doc.Validate(false)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrictModeRequiresSignatures(t *testing.T) {
	doc := validDocument()
	if err := doc.Validate(true); !errors.Is(err, ErrSecurityFailed) {
		t.Fatalf("strict Validate() without signatures error = %v, want ErrSecurityFailed", err)
	}

	signDocument(t, doc)
	if err := doc.Validate(true); err != nil {
		t.Errorf("strict Validate() with valid signature error = %v", err)
	}
}

func TestSignatureTamperDetection(t *testing.T) {
	doc := validDocument()
	signDocument(t, doc)

	doc.Content.HTML += "<p>injected</p>"
	if err := doc.Validate(true); !errors.Is(err, ErrSecurityFailed) {
		t.Errorf("tampered document passed strict validation: %v", err)
	}
}

func TestSignatureMalformedKey(t *testing.T) {
	doc := validDocument()
	doc.Signatures = []Signature{{PublicKey: []byte("short"), Signature: []byte("x")}}
	if err := doc.VerifySignatures(); !errors.Is(err, ErrSecurityFailed) {
		t.Errorf("VerifySignatures() error = %v, want ErrSecurityFailed", err)
	}
}

func TestHasInteractive(t *testing.T) {
	doc := validDocument()
	if doc.HasInteractive() {
		t.Error("static document reports interactive content")
	}

	doc.Content.Interactive = &InteractiveSpec{Script: "draw();"}
	if !doc.HasInteractive() {
		t.Error("script document reports no interactive content")
	}
}
