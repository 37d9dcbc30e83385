package types

import (
	"encoding/json"
	"testing"
)

func TestExtraArgsValidate(t *testing.T) {
	good := ExtraArgs{"seed": float64(7), "sampler": "euler_a", "hires": true}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected scalar map to validate, got %v", err)
	}

	bad := ExtraArgs{"nested": map[string]any{"a": 1}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected nested object to be rejected")
	}

	badList := ExtraArgs{"seeds": []any{1, 2, 3}}
	if err := badList.Validate(); err == nil {
		t.Fatal("expected array value to be rejected")
	}
}

func TestScalarString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"X", "X"},
		{float64(42), "42"},
		{float64(1.5), "1.5"},
		{true, "true"},
		{json.Number("1234567890123"), "1234567890123"},
	}
	for _, tc := range cases {
		if got := ScalarString(tc.in); got != tc.want {
			t.Errorf("ScalarString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtraArgsRoundTrip(t *testing.T) {
	task := &Task{ExtraArgs: ExtraArgs{"seed": float64(7), "model": "sdxl"}}
	raw, err := task.MarshalExtraArgs()
	if err != nil {
		t.Fatalf("MarshalExtraArgs failed: %v", err)
	}

	var back Task
	if err := back.UnmarshalExtraArgs(raw); err != nil {
		t.Fatalf("UnmarshalExtraArgs failed: %v", err)
	}
	if back.ExtraArgs["model"] != "sdxl" {
		t.Errorf("expected model sdxl, got %v", back.ExtraArgs["model"])
	}
	if back.ExtraArgs["seed"] != float64(7) {
		t.Errorf("expected seed 7, got %v", back.ExtraArgs["seed"])
	}
}

func TestExtraArgsNullReadsAsEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		var task Task
		if err := task.UnmarshalExtraArgs(raw); err != nil {
			t.Fatalf("UnmarshalExtraArgs(%q) failed: %v", raw, err)
		}
		if task.ExtraArgs == nil || len(task.ExtraArgs) != 0 {
			t.Errorf("UnmarshalExtraArgs(%q): expected empty map, got %v", raw, task.ExtraArgs)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range AllStatuses {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Status("running").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
