package llm

import "testing"

func TestInjectVariables(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{
			name:     "basic substitution",
			template: "You are {persona}.",
			vars:     map[string]string{"persona": "Parley"},
			want:     "You are Parley.",
		},
		{
			name:     "inner whitespace tolerated",
			template: "Date: { currentDate }",
			vars:     map[string]string{"currentDate": "2026-09-01"},
			want:     "Date: 2026-09-01",
		},
		{
			name:     "unknown placeholder preserved",
			template: "Hello {nobody}!",
			vars:     map[string]string{"persona": "Parley"},
			want:     "Hello {nobody}!",
		},
		{
			name:     "multiple occurrences",
			template: "{a} and {a} and {b}",
			vars:     map[string]string{"a": "x", "b": "y"},
			want:     "x and x and y",
		},
		{
			name:     "braces with spaces inside name are not placeholders",
			template: "literal {not a placeholder}",
			vars:     map[string]string{"not": "x"},
			want:     "literal {not a placeholder}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := injectVariables(tt.template, tt.vars); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
