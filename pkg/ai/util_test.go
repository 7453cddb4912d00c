package ai

import (
	"testing"
)

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	type group struct {
		Canonical string   `json:"canonical"`
		Members   []string `json:"members"`
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid json object",
			input: `{"canonical":"acme corp","members":["acme","acme corp"]}`,
			want:  "acme corp",
		},
		{
			name:  "unquoted key and single quotes",
			input: `{canonical: 'acme corp', members: ['acme']}`,
			want:  "acme corp",
		},
		{
			name:  "trailing comma",
			input: `{"canonical":"acme corp","members":["acme"],}`,
			want:  "acme corp",
		},
		{
			name:  "truncated output",
			input: `{"canonical":"acme corp","members":["acme`,
			want:  "acme corp",
		},
		{
			name:  "stringified json",
			input: `"{\"canonical\": \"acme corp\", \"members\": [\"acme\"]}"`,
			want:  "acme corp",
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"canonical\": \"acme corp\", \"members\": []\n}\n",
			want:  "acme corp",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got group
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.Canonical != tc.want {
				t.Fatalf("UnmarshalFlexible() canonical = %q, want %q", got.Canonical, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type group struct {
		Canonical string `json:"canonical"`
	}

	input := `[{canonical:'alpha'},{canonical:'beta',}]`
	var got []group
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Canonical != "alpha" || got[1].Canonical != "beta" {
		t.Fatalf("UnmarshalFlexible() got = %+v, want alpha and beta", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	type group struct {
		Canonical string `json:"canonical"`
	}

	var got group
	if err := UnmarshalFlexible("no json anywhere here", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestGenerateSchema_DisallowsAdditionalProperties(t *testing.T) {
	type payload struct {
		Answer string `json:"answer"`
	}

	schema := GenerateSchema(&payload{})
	if schema == nil {
		t.Fatal("GenerateSchema() returned nil")
	}
}
