package domain

import "testing"

func TestValue_FromAnyToAnyRoundTrip(t *testing.T) {
	in := map[string]any{
		"name": "web",
		"mem":  int64(512),
		"tags": []any{"a", "b"},
		"nested": map[string]any{
			"enabled": true,
			"ratio":   1.5,
		},
	}
	v := FromAny(in)
	if v.Kind != KindMapping {
		t.Fatalf("Kind = %v, want KindMapping", v.Kind)
	}
	out, ok := v.ToAny().(map[string]any)
	if !ok {
		t.Fatalf("ToAny() = %T, want map[string]any", v.ToAny())
	}
	if out["name"] != "web" || out["mem"] != int64(512) {
		t.Fatalf("out = %+v", out)
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["enabled"] != true || nested["ratio"] != 1.5 {
		t.Fatalf("nested = %+v", out["nested"])
	}
}

func TestValue_GetSetDottedPath(t *testing.T) {
	v := NewMapping()
	v.Set("db.host", NewString("10.0.0.1"))
	v.Set("db.port", NewInt(5432))

	host, ok := v.Get("db.host")
	if !ok || host.Str != "10.0.0.1" {
		t.Fatalf("db.host = %+v, ok=%v", host, ok)
	}
	if _, ok := v.Get("db.missing"); ok {
		t.Fatal("expected db.missing to be absent")
	}
	if _, ok := v.Get("nope.at.all"); ok {
		t.Fatal("expected a missing intermediate segment to fail Get")
	}
}

func TestValue_SetMaterializesIntermediateMappings(t *testing.T) {
	v := Null()
	v.Set("a.b.c", NewInt(1))
	got, ok := v.Get("a.b.c")
	if !ok || got.Int != 1 {
		t.Fatalf("a.b.c = %+v, ok=%v", got, ok)
	}
}

func TestValue_Delete(t *testing.T) {
	v := NewMapping()
	v.Set("a.b", NewInt(1))
	if !v.Delete("a.b") {
		t.Fatal("expected Delete to report removal")
	}
	if _, ok := v.Get("a.b"); ok {
		t.Fatal("expected a.b to be gone")
	}
	if v.Delete("a.b") {
		t.Fatal("expected a second Delete of the same path to report false")
	}
}

func TestMerge_OverlayWinsAtLeaves(t *testing.T) {
	base := NewMapping()
	base.Set("db.host", NewString("base-host"))
	base.Set("db.port", NewInt(5432))

	overlay := NewMapping()
	overlay.Set("db.host", NewString("overlay-host"))

	merged := Merge(base, overlay)
	host, _ := merged.Get("db.host")
	port, _ := merged.Get("db.port")
	if host.Str != "overlay-host" {
		t.Fatalf("db.host = %q, want overlay-host", host.Str)
	}
	if port.Int != 5432 {
		t.Fatalf("db.port = %d, want 5432 to survive from base", port.Int)
	}
}

func TestValue_CloneIsIndependent(t *testing.T) {
	v := NewMapping()
	v.Set("a", NewInt(1))
	clone := v.Clone()
	clone.Set("a", NewInt(2))

	orig, _ := v.Get("a")
	if orig.Int != 1 {
		t.Fatalf("original mutated through clone: a = %d", orig.Int)
	}
}

func TestValue_EqualStructural(t *testing.T) {
	a := NewMapping()
	a.Set("x", NewSequence(NewInt(1), NewInt(2)))
	b := NewMapping()
	b.Set("x", NewSequence(NewInt(1), NewInt(2)))
	if !a.Equal(b) {
		t.Fatal("expected structurally identical mappings to be Equal")
	}
	b.Set("x", NewSequence(NewInt(1), NewInt(3)))
	if a.Equal(b) {
		t.Fatal("expected a differing sequence element to break Equal")
	}
}

func TestValue_SortedKeysIsLexicographic(t *testing.T) {
	v := NewMapping()
	v.Set("zebra", NewInt(1))
	v.Set("apple", NewInt(2))
	v.Set("mango", NewInt(3))
	keys := v.SortedKeys()
	if len(keys) != 3 || keys[0] != "apple" || keys[1] != "mango" || keys[2] != "zebra" {
		t.Fatalf("SortedKeys = %v", keys)
	}
}
