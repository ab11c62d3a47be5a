package dag

import (
	"testing"
	"time"
)

const sampleYAML = `
id: property-onboarding
description: Collect and approve a property record
type: process
emits_events: true
entity_outputs: [property_record]
tasks:
  - id: collect
    type: human_input
    config:
      required_fields: [name, email]
  - id: validate
    type: transform
    upstream: [collect]
  - id: approve
    type: approval
    upstream: [validate]
    timeout: 30m
    max_attempts: 2
  - id: finalize
    type: entity_create
    upstream: [approve]
    config:
      entity_type: property_record
`

func TestParseYAML(t *testing.T) {
	wf, err := NewParser().ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if wf.ID != "property-onboarding" {
		t.Errorf("Expected property-onboarding, got %s", wf.ID)
	}
	if !wf.EmitsEvents {
		t.Error("Expected emits_events true")
	}
	if len(wf.Tasks) != 4 {
		t.Fatalf("Expected 4 tasks, got %d", len(wf.Tasks))
	}

	approve := wf.Tasks["approve"]
	if approve.Timeout != 30*time.Minute {
		t.Errorf("Expected 30m timeout, got %v", approve.Timeout)
	}
	if approve.MaxAttempts != 2 {
		t.Errorf("Expected max_attempts 2, got %d", approve.MaxAttempts)
	}

	// Downstream side resolved from upstream declarations
	collect := wf.Tasks["collect"]
	if len(collect.DownstreamIDs) != 1 || collect.DownstreamIDs[0] != "validate" {
		t.Errorf("Expected collect -> validate, got %v", collect.DownstreamIDs)
	}

	fields := collect.ConfigStrings("required_fields")
	if len(fields) != 2 || fields[0] != "name" {
		t.Errorf("Expected required_fields [name email], got %v", fields)
	}
}

func TestParseYAML_UnknownUpstream(t *testing.T) {
	_, err := NewParser().ParseYAML([]byte(`
id: broken
tasks:
  - id: a
    type: noop
    upstream: [ghost]
`))
	if err == nil {
		t.Error("Expected error for unknown upstream, got nil")
	}
}

func TestParseYAML_Cycle(t *testing.T) {
	_, err := NewParser().ParseYAML([]byte(`
id: loop
tasks:
  - id: a
    type: noop
    upstream: [b]
  - id: b
    type: noop
    upstream: [a]
`))
	if err == nil {
		t.Error("Expected error for cyclic definition, got nil")
	}
}

func TestParseYAML_BadTimeout(t *testing.T) {
	_, err := NewParser().ParseYAML([]byte(`
id: bad-timeout
tasks:
  - id: a
    type: noop
    timeout: not-a-duration
`))
	if err == nil {
		t.Error("Expected error for invalid timeout, got nil")
	}
}

func TestParseJSON(t *testing.T) {
	wf, err := NewParser().ParseJSON([]byte(`{
		"id": "json-wf",
		"tasks": [
			{"id": "a", "type": "noop"},
			{"id": "b", "type": "noop", "upstream": ["a"]}
		]
	}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(wf.Tasks["b"].UpstreamIDs) != 1 {
		t.Errorf("Expected b upstream [a], got %v", wf.Tasks["b"].UpstreamIDs)
	}
}
