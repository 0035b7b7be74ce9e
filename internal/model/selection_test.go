package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSelection_RejectsBadNames(t *testing.T) {
	tests := []struct {
		name  string
		attrs []AttributeValue
	}{
		{"empty name", []AttributeValue{{Name: "", Value: "x"}}},
		{"prefix only", []AttributeValue{{Name: "attribute_", Value: "x"}}},
		{"duplicate", []AttributeValue{{Name: "color"}, {Name: "attribute_color"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSelection(tt.attrs...)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestSelection_Completeness(t *testing.T) {
	tests := []struct {
		name         string
		attrs        []AttributeValue
		wantChosen   int
		wantComplete bool
	}{
		{"none", nil, 0, false},
		{"unset", []AttributeValue{{Name: "color"}, {Name: "size"}}, 0, false},
		{"partial", []AttributeValue{{Name: "color", Value: ""}, {Name: "size", Value: "M"}}, 1, false},
		{"complete", []AttributeValue{{Name: "color", Value: "red"}, {Name: "size", Value: "M"}}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSelection(tt.attrs...)
			if err != nil {
				t.Fatalf("NewSelection: %v", err)
			}
			if s.Chosen() != tt.wantChosen {
				t.Errorf("Chosen() = %d, want %d", s.Chosen(), tt.wantChosen)
			}
			if s.Complete() != tt.wantComplete {
				t.Errorf("Complete() = %v, want %v", s.Complete(), tt.wantComplete)
			}
		})
	}
}

func TestSelection_WithCopies(t *testing.T) {
	s, _ := NewSelection(AttributeValue{Name: "color"}, AttributeValue{Name: "size"})

	next, err := s.With("attribute_color", "red")
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if s.Value("color") != "" {
		t.Error("With must not mutate the receiver")
	}
	if next.Value("color") != "red" {
		t.Errorf("Value(color) = %q, want red", next.Value("color"))
	}

	if _, err := s.With("fit", "slim"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("unknown attribute err = %v, want ErrInvalidRequest", err)
	}
}

func TestSelectionFor(t *testing.T) {
	s, err := SelectionFor(
		[]string{"attribute_pa_color", "pa_size"},
		map[string]string{"attribute_pa_size": "M"},
	)
	if err != nil {
		t.Fatalf("SelectionFor: %v", err)
	}
	if diff := cmp.Diff([]string{"pa_color", "pa_size"}, s.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"attribute_pa_size": "M"}, s.Wire()); diff != "" {
		t.Errorf("Wire mismatch (-want +got):\n%s", diff)
	}

	if _, err := SelectionFor([]string{"pa_color"}, map[string]string{"pa_fit": "slim"}); err == nil {
		t.Error("expected error for unknown attribute")
	}
}
