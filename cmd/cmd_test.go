package cmd

import (
	"reflect"
	"testing"
)

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"github", []string{"github"}},
		{"github,jira", []string{"github", "jira"}},
		{" github , jira ", []string{"github", "jira"}},
		{"github,,jira,", []string{"github", "jira"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if got := splitIDs(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitIDs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
