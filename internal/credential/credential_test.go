package credential

import (
	"errors"
	"strings"
	"testing"

	"github.com/oliverjessner/Billy/internal/apperr"
)

func TestEncryptResolveRoundTrip(t *testing.T) {
	r := NewResolver("test-secret")
	ref, err := r.Encrypt("sk-test-123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(ref, PrefixEnc) || strings.Contains(ref, "sk-test-123") {
		t.Fatalf("unexpected reference %q", ref)
	}
	got, err := r.Resolve(ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestResolveWrongSecret(t *testing.T) {
	ref, _ := NewResolver("a").Encrypt("sk-test")
	_, err := NewResolver("b").Resolve(ref)
	if !errors.Is(err, apperr.ErrCredential) {
		t.Errorf("err = %v, want ErrCredential", err)
	}
}

func TestResolveEnv(t *testing.T) {
	r := NewResolver("")
	r.lookupEnv = func(name string) (string, bool) {
		if name == "OPENAI_API_KEY" {
			return " sk-env ", true
		}
		return "", false
	}
	got, err := r.Resolve("env:OPENAI_API_KEY")
	if err != nil || got != "sk-env" {
		t.Errorf("Resolve = %q, %v", got, err)
	}
	if _, err := r.Resolve("env:MISSING"); !errors.Is(err, apperr.ErrCredential) {
		t.Errorf("missing env err = %v", err)
	}
}

func TestResolveInvalidReferences(t *testing.T) {
	r := NewResolver("")
	for _, ref := range []string{"", "   ", "sk-plaintext", "enc:only-one-part", "enc:!!:!!:!!"} {
		if _, err := r.Resolve(ref); !errors.Is(err, apperr.ErrCredential) {
			t.Errorf("Resolve(%q) err = %v, want ErrCredential", ref, err)
		}
	}
}

func TestIsReference(t *testing.T) {
	if !IsReference("env:X") || !IsReference("enc:a:b:c") || IsReference("sk-123") {
		t.Error("IsReference misclassified input")
	}
}
