package tunnelmgr

import "testing"

func TestAssignedURLPattern(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string // "" means no match expected
	}{
		{
			name: "no preceding anchor text",
			line: "Connection established, waiting for connections.. https://app-fkmc.cicd.eu1.asd.engineer",
			want: "https://app-fkmc.cicd.eu1.asd.engineer",
		},
		{
			name: "trailing punctuation is part of the greedy match",
			line: "tunnel ready: https://app-fkmc.cicd.eu1.asd.engineer.",
			want: "https://app-fkmc.cicd.eu1.asd.engineer.",
		},
		{
			name: "first of multiple URL-shaped substrings on one line wins",
			line: "forwarding https://app-fkmc.cicd.eu1.asd.engineer to http://localhost:3000",
			want: "https://app-fkmc.cicd.eu1.asd.engineer",
		},
		{
			name: "no dot in host does not match",
			line: "listening on http://localhost:3000",
			want: "",
		},
		{
			name: "no url at all",
			line: "Connection established, waiting for connections..",
			want: "",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			match := AssignedURLPattern.FindStringSubmatch(c.line)
			if c.want == "" {
				if match != nil {
					t.Fatalf("expected no match, got %q", match[1])
				}
				return
			}
			if match == nil {
				t.Fatalf("expected match %q, got none", c.want)
			}
			if match[1] != c.want {
				t.Fatalf("expected capture %q, got %q", c.want, match[1])
			}
		})
	}
}
