package mail

import (
	"testing"
)

func TestSplitMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		message     string
		wantHeaders map[string]string
		wantBody    string
	}{
		{
			name:        "headers then blank line",
			message:     "To: ops@example.com\nSubject: Job failed\n\nThe job failed.\n",
			wantHeaders: map[string]string{"to": "ops@example.com", "subject": "Job failed"},
			wantBody:    "The job failed.\n",
		},
		{
			name:        "non header line ends the block",
			message:     "To: ops@example.com\nThe job: finished okay\n",
			wantHeaders: map[string]string{"to": "ops@example.com"},
			wantBody:    "The job: finished okay\n",
		},
		{
			name:        "no headers at all",
			message:     "plain body text\nwith two lines",
			wantHeaders: map[string]string{},
			wantBody:    "plain body text\nwith two lines",
		},
		{
			name:        "case insensitive names and crlf",
			message:     "TO: a@b.c\r\nCC: d@e.f, g@h.i\r\n\r\nbody",
			wantHeaders: map[string]string{"to": "a@b.c", "cc": "d@e.f, g@h.i"},
			wantBody:    "body",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			headers, body := splitMessage(tt.message)
			if len(headers) != len(tt.wantHeaders) {
				t.Fatalf("headers = %v, want %v", headers, tt.wantHeaders)
			}
			for k, v := range tt.wantHeaders {
				if headers[k] != v {
					t.Fatalf("header %q = %q, want %q", k, headers[k], v)
				}
			}
			if body != tt.wantBody {
				t.Fatalf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestSplitAddrs(t *testing.T) {
	t.Parallel()
	got := splitAddrs(" a@b.c ,, d@e.f ")
	if len(got) != 2 || got[0] != "a@b.c" || got[1] != "d@e.f" {
		t.Fatalf("splitAddrs = %v", got)
	}
}

func TestSendWithoutHost(t *testing.T) {
	t.Parallel()
	m := New(Config{})
	if err := m.Send("To: ops@example.com\n\nhi"); err == nil {
		t.Fatal("expected error without configured host")
	}
}

func TestSendWithoutRecipient(t *testing.T) {
	t.Parallel()
	m := New(Config{Host: "localhost"})
	if err := m.Send("Subject: no recipient\n\nhi"); err == nil {
		t.Fatal("expected error without To header")
	}
}
