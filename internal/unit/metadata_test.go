package unit

import (
	"errors"
	"slices"
	"testing"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    []string
		wantErr bool
	}{
		{"ordered list", "workflowClasses:\n  - b.B\n  - a.A\n", []string{"b.B", "a.A"}, false},
		{"flow list", "workflowClasses: [a.A]\n", []string{"a.A"}, false},
		{"missing key", "other: 1\n", []string{}, false},
		{"empty document", "", []string{}, false},
		{"null value", "workflowClasses:\n", []string{}, false},
		{"scalar value", "workflowClasses: a.A\n", nil, true},
		{"non-string entry", "workflowClasses: [1]\n", nil, true},
		{"empty entry", "workflowClasses: ['']\n", nil, true},
		{"not a mapping", "- a\n- b\n", nil, true},
		{"malformed", "workflowClasses: [a\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := ParseMetadata([]byte(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, ErrIO) {
					t.Fatalf("ParseMetadata() error = %v, want ErrIO", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMetadata() error = %v", err)
			}
			got, err := md.WorkflowClasses()
			if err != nil {
				t.Fatalf("WorkflowClasses() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("WorkflowClasses() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadMetadataFromContext(t *testing.T) {
	ctx := buildContext(t, ordersUnit(t))

	md, err := ReadMetadata(ctx)
	if err != nil {
		t.Fatalf("ReadMetadata() error = %v", err)
	}
	classes, _ := md.WorkflowClasses()
	if want := []string{"com.example.Orders", "com.example.Billing"}; !slices.Equal(classes, want) {
		t.Errorf("WorkflowClasses() = %v, want %v", classes, want)
	}
}

func TestTaskConcurrency(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantOK  bool
		wantErr bool
	}{
		{"set", "pkg.C_run:\n  executionConcurrency: 5\n", 5, true, false},
		{"task absent", "other.C_run:\n  executionConcurrency: 5\n", 0, false, false},
		{"key absent", "pkg.C_run:\n  retries: 2\n", 0, false, false},
		{"zero", "pkg.C_run:\n  executionConcurrency: 0\n", 0, false, true},
		{"not an integer", "pkg.C_run:\n  executionConcurrency: 1.5\n", 0, false, true},
		{"section not a mapping", "pkg.C_run: 4\n", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := ParseMetadata([]byte(tt.doc))
			if err != nil {
				t.Fatalf("ParseMetadata() error = %v", err)
			}
			got, ok, err := md.TaskConcurrency("pkg.C_run")
			if tt.wantErr {
				if !errors.Is(err, ErrIO) {
					t.Fatalf("TaskConcurrency() error = %v, want ErrIO", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TaskConcurrency() error = %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("TaskConcurrency() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
