package bod

import "testing"

func TestBaseName(t *testing.T) {
	for _, c := range []struct {
		name, base string
	}{
		{"Hat_fresnel", "Hat"},
		{"Hat_fresnelShape", "Hat"},
		{"Trico_fur", "Trico"},
		{"Trico_furShape", "Trico"},
		{"Body", "Body"},
		{"Hat_fresnel_fur", "Hat"},
		{"", ""},
	} {
		if got := BaseName(c.name); got != c.base {
			t.Errorf("BaseName(%q) = %q, want %q", c.name, got, c.base)
		}
	}

	// Stripping is idempotent.
	for _, name := range []string{"Hat_fresnel", "Trico_furShape", "Body"} {
		if BaseName(BaseName(name)) != BaseName(name) {
			t.Error("not idempotent:", name)
		}
	}
}

func TestVariantKind(t *testing.T) {
	for _, c := range []struct {
		name, kind string
	}{
		{"Hat_fresnel", "fresnel"},
		{"Hat_fresnelShape", "fresnel"},
		{"Trico_fur", "fur"},
		{"Body", ""},
	} {
		if got := VariantKind(c.name); got != c.kind {
			t.Errorf("VariantKind(%q) = %q, want %q", c.name, got, c.kind)
		}
	}
}

func TestNewObjectFallback(t *testing.T) {
	obj := NewObject("CollisionMesh", "c0")
	if _, ok := obj.(*Unknown); !ok {
		t.Error("expected Unknown:", obj)
	}
	if obj.ObjectKind() != "CollisionMesh" || obj.ObjectName() != "c0" {
		t.Error("identity lost:", obj)
	}
}
