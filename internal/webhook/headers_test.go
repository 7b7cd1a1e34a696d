package webhook

import (
	"testing"
)

func TestParseHeaderLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			name: "simple",
			text: "Content-Type: application/json\nX-Token: abc123",
			want: map[string]string{"Content-Type": "application/json", "X-Token": "abc123"},
		},
		{
			name: "crlf and blank lines",
			text: "A: 1\r\n\r\nB: 2\r\n",
			want: map[string]string{"A": "1", "B": "2"},
		},
		{
			name: "token punctuation in name",
			text: "X-Custom.Header_1: yes",
			want: map[string]string{"X-Custom.header_1": "yes"},
		},
		{
			name: "malformed lines dropped",
			text: "no colon here\n: empty name\nBad Name: spaced\nOK: fine",
			want: map[string]string{"Ok": "fine"},
		},
		{
			name: "value with colons kept whole",
			text: "Authorization: Bearer a:b:c",
			want: map[string]string{"Authorization": "Bearer a:b:c"},
		},
		{
			name: "empty input",
			text: "",
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHeaderLines(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d headers (%v), want %d", len(got), got, len(tt.want))
			}
			for k, v := range tt.want {
				if got.Get(k) != v {
					t.Fatalf("header %q = %q, want %q", k, got.Get(k), v)
				}
			}
		})
	}
}
