package llm

import "testing"

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "plain", content: `{"summary":"a"}`, want: "a"},
		{name: "fenced", content: "```json\n{\"summary\":\"b\"}\n```", want: "b"},
		{name: "prose", content: "Here you go: {\"summary\":\"c\"} thanks", want: "c"},
		{name: "empty", content: "  ", wantErr: true},
		{name: "no json", content: "no tags for this one", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var parsed struct {
				Summary string `json:"summary"`
			}
			err := DecodeJSON(tc.content, &parsed)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || parsed.Summary != tc.want {
				t.Fatalf("DecodeJSON = %+v, %v", parsed, err)
			}
		})
	}
}

func TestSnippetTruncates(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	got := snippet(string(long))
	if len(got) != snippetLimit+3 {
		t.Fatalf("unexpected snippet length %d", len(got))
	}
	if snippet(" \n ") != "<empty>" {
		t.Fatal("expected empty marker")
	}
}
