package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mattisv/tradetalk/internal/chat"
)

func TestWriteTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	headers := []string{"ID", "COUNTERPARTY", "UNREAD"}
	rows := [][]string{
		{"conv-1", "Sarah Whitfield", "3"},
		{"conv-2", "Tom", "0"},
	}
	if err := writeTable(&buf, headers, rows); err != nil {
		t.Fatalf("writeTable: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	headerCol := strings.Index(lines[0], "UNREAD")
	for i, line := range lines[1:] {
		if !strings.HasPrefix(line[headerCol:], rows[i][2]) {
			t.Errorf("row %d: unread column misaligned: %q", i, line)
		}
	}
}

func TestWriteTableStripsANSIForWidth(t *testing.T) {
	var buf bytes.Buffer
	rows := [][]string{
		{"\x1b[31mred\x1b[0m", "x"},
		{"plain", "y"},
	}
	if err := writeTable(&buf, []string{"A", "B"}, rows); err != nil {
		t.Fatalf("writeTable: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	col := strings.Index(lines[0], "B")
	if stripANSI(lines[1])[col:col+1] != "x" {
		t.Errorf("colored cell shifted second column: %q", lines[1])
	}
}

func TestStripANSI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"\x1b[1;32mbold green\x1b[0m", "bold green"},
		{"pre\x1b[31mmid\x1b[0mpost", "premidpost"},
	}
	for _, tc := range cases {
		if got := stripANSI(tc.in); got != tc.want {
			t.Errorf("stripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPartyLabel(t *testing.T) {
	cases := []struct {
		name  string
		party chat.Party
		want  string
	}{
		{"display name", chat.Party{ID: "user-a", DisplayName: "Sarah Whitfield"}, "Sarah Whitfield"},
		{"id fallback", chat.Party{ID: "user-a"}, "user-a"},
		{"empty", chat.Party{}, "unknown contact"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := partyLabel(tc.party); got != tc.want {
				t.Errorf("partyLabel = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatLastActivity(t *testing.T) {
	if got := formatLastActivity(time.Time{}); got != "-" {
		t.Errorf("zero time = %q, want -", got)
	}
	ts := time.Date(2025, 6, 12, 9, 30, 0, 0, time.Local)
	if got := formatLastActivity(ts); got != "2025-06-12 09:30" {
		t.Errorf("formatLastActivity = %q", got)
	}
}
