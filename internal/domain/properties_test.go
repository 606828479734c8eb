package domain

import (
	"errors"
	"testing"
)

func TestBindProperties_NoSchemaPassesPropertiesThrough(t *testing.T) {
	props := NewMapping()
	props.Set("db.host", NewString("10.0.0.1"))

	got, err := BindProperties("web", props, nil, nil)
	if err != nil {
		t.Fatalf("BindProperties: %v", err)
	}
	if !got.Equal(props) {
		t.Fatalf("got %+v, want untouched %+v", got, props)
	}
}

func TestBindProperties_SchemaDefaultsAndOverrides(t *testing.T) {
	props := NewMapping()
	props.Set("mem", NewInt(512))

	schema := PropertySchema{
		{Path: "mem", Required: true},
		{Path: "timeout", Default: NewInt(30), HasDefault: true},
	}

	got, err := BindProperties("web", props, []PropertySchema{schema}, nil)
	if err != nil {
		t.Fatalf("BindProperties: %v", err)
	}
	mem, _ := got.Get("mem")
	if mem.Int != 512 {
		t.Fatalf("mem = %v, want 512", mem)
	}
	timeout, _ := got.Get("timeout")
	if timeout.Int != 30 {
		t.Fatalf("timeout = %v, want default 30", timeout)
	}
}

func TestBindProperties_RequiredPropertyMissing(t *testing.T) {
	schema := PropertySchema{{Path: "mem", Required: true}}
	_, err := BindProperties("web", NewMapping(), []PropertySchema{schema}, nil)
	if !errors.Is(err, ErrMissingProperty) {
		t.Fatalf("expected ErrMissingProperty, got %v", err)
	}
}

func TestBindProperties_MixedSchemaIsIncompatible(t *testing.T) {
	schema := PropertySchema{{Path: "mem"}}
	_, err := BindProperties("web", NewMapping(), []PropertySchema{schema, nil}, nil)
	if !errors.Is(err, ErrIncompatibleSpecs) {
		t.Fatalf("expected ErrIncompatibleSpecs, got %v", err)
	}
}

func TestBindProperties_MappingRewritesBeforeSchema(t *testing.T) {
	props := NewMapping()
	props.Set("dea.max_memory", NewInt(1024))

	schema := PropertySchema{{Path: "mem", Required: true}}
	mappings := []PropertyMapping{{Alias: "mem", Source: "dea.max_memory"}}

	got, err := BindProperties("web", props, []PropertySchema{schema}, mappings)
	if err != nil {
		t.Fatalf("BindProperties: %v", err)
	}
	mem, ok := got.Get("mem")
	if !ok || mem.Int != 1024 {
		t.Fatalf("mem = %v, ok=%v, want 1024", mem, ok)
	}
	if _, ok := got.Get("dea.max_memory"); ok {
		t.Fatal("expected the original mapping source path to be removed")
	}
}

func TestBindProperties_MappingSourceMissing(t *testing.T) {
	mappings := []PropertyMapping{{Alias: "mem", Source: "dea.max_memory"}}
	_, err := BindProperties("web", NewMapping(), nil, mappings)
	if !errors.Is(err, ErrInvalidPropertyMapping) {
		t.Fatalf("expected ErrInvalidPropertyMapping, got %v", err)
	}
}
