package source

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func TestSplitDocuments(t *testing.T) {
	tests := []struct {
		name string
		text string
		sep  string
		want []string
	}{
		{
			name: "separator lines",
			text: "doc one\nmore\n---\ndoc two\n  ---  \ndoc three\n",
			sep:  "---",
			want: []string{"doc one\nmore", "doc two", "doc three"},
		},
		{
			name: "blank documents dropped",
			text: "---\n\n---\nonly\n---\n",
			sep:  "---",
			want: []string{"only"},
		},
		{
			name: "no separator configured",
			text: "a\n---\nb\n",
			sep:  "",
			want: []string{"a\n---\nb"},
		},
		{
			name: "empty text",
			text: "",
			sep:  "---",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitDocuments(tt.text, tt.sep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitDocuments() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSortByNumber(t *testing.T) {
	got := sortByNumber([]string{"d/home-10.txt", "d/home-2.txt", "d/alpha.txt", "d/home-1.txt"})
	want := []string{"d/alpha.txt", "d/home-1.txt", "d/home-2.txt", "d/home-10.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sortByNumber() = %v, want %v", got, want)
	}
}

func TestRequestID(t *testing.T) {
	if got := RequestID("nodes-42", 3, "commands"); got != "nodes-42_finetune_3_commands" {
		t.Errorf("RequestID() = %q", got)
	}
	if got := RequestID("home.v2 (copy)", 1, "routines"); got != "home-v2-copy-_finetune_1_routines" {
		t.Errorf("RequestID() = %q", got)
	}

	valid := regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	long := strings.Repeat("living-room-devices.", 6)
	a := RequestID(long+"a", 12, "properties")
	b := RequestID(long+"b", 12, "properties")
	for _, id := range []string{a, b} {
		if !valid.MatchString(id) {
			t.Errorf("RequestID() = %q (%d chars), not a valid custom_id", id, len(id))
		}
		if !strings.HasSuffix(id, "_finetune_12_properties") {
			t.Errorf("RequestID() = %q lost its suffix", id)
		}
	}
	if a == b {
		t.Errorf("distinct long stems collided on %q", a)
	}
}

func TestGenericRequest(t *testing.T) {
	a := GenericRequest("nucore")
	b := GenericRequest("nucore")
	if !strings.HasPrefix(a.ID, "nucore_generic_") || len(a.ID) != len("nucore_generic_")+8 {
		t.Errorf("ID = %q", a.ID)
	}
	if a.ID == b.ID {
		t.Error("generic ids should differ between calls")
	}
	if a.Text != GenericText {
		t.Errorf("Text = %q", a.Text)
	}
}

func TestReaderRequests(t *testing.T) {
	dir := t.TempDir()
	seven := strings.Join([]string{"d1", "d2", "d3", "d4", "d5", "d6", "d7"}, "\n---\n")
	files := map[string]string{
		"home-2.txt":  seven,
		"home-10.txt": "only",
		"empty.txt":   "---\n",
		"notes.md":    "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	r := &Reader{Dir: dir, Separator: "---", DocumentsPerRequest: 3}

	var got []Request
	for req, err := range r.Requests("properties") {
		if err != nil {
			t.Fatalf("Requests() error = %v", err)
		}
		got = append(got, req)
	}

	wantIDs := []string{
		"home-2_finetune_1_properties",
		"home-2_finetune_2_properties",
		"home-2_finetune_3_properties",
		"home-10_finetune_1_properties",
	}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d requests, want %d: %+v", len(got), len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("request %d ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if got[0].Text != "d1\n\nd2\n\nd3" {
		t.Errorf("first text = %q", got[0].Text)
	}
	if got[2].Text != "d7" {
		t.Errorf("remainder text = %q", got[2].Text)
	}
}

func TestReaderRequestsStopsEarly(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1\n---\n2\n---\n3"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	r := &Reader{Dir: dir, Separator: "---", DocumentsPerRequest: 1}

	n := 0
	for range r.Requests("commands") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d times, want 2", n)
	}
}

func TestReaderMissingDir(t *testing.T) {
	r := &Reader{Dir: filepath.Join(t.TempDir(), "missing")}
	for _, err := range r.Requests("commands") {
		if err == nil {
			t.Fatal("expected error for missing directory")
		}
		return
	}
	t.Fatal("expected one error value")
}
