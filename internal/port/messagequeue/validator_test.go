package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateControl(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"pause", `{"run_id":"r1","action":"pause"}`, ""},
		{"apply", `{"run_id":"r1","action":"apply","settings":{"epochs":12}}`, ""},
		{"apply without settings", `{"run_id":"r1","action":"apply"}`, "apply needs settings"},
		{"missing run", `{"action":"stop"}`, "run_id is required"},
		{"unknown action", `{"run_id":"r1","action":"explode"}`, "unknown action"},
		{"wrong shape", `"just a string"`, "schema validation failed"},
		{"invalid json", `{not valid json`, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(SubjectControl, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in error, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateEventSubject(t *testing.T) {
	data := []byte(`{"run_id":"r1","type":"run.progress","payload":{"percent":20},"sequence":3}`)
	if err := Validate(SubjectEvents+".run.progress", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectEvents+".run.progress", []byte(`[1,2]`)); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
