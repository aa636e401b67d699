package storage

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestEvidenceKeyStaysUnderAttempt(t *testing.T) {
	id := uuid.New()
	cases := []string{"snap.png", "../../etc/passwd", `C:\Users\x\cam.jpg`, ""}
	for _, name := range cases {
		key := EvidenceKey(id, name)
		if !strings.HasPrefix(key, "attempts/"+id.String()+"/flags/") {
			t.Fatalf("EvidenceKey(%q): bad prefix %s", name, key)
		}
		if strings.Contains(key, "..") {
			t.Fatalf("EvidenceKey(%q): traversal survived: %s", name, key)
		}
		if !ValidKey(key) {
			t.Fatalf("EvidenceKey(%q) produced an invalid key %s", name, key)
		}
	}
}

func TestValidKey(t *testing.T) {
	id := uuid.NewString()
	cases := map[string]bool{
		"attempts/" + id + "/flags/a.png":       true,
		"attempts/" + id + "/streams/cam.json":  true,
		"attempts/not-a-uuid/flags/a.png":       false,
		"attempts/" + id:                        false,
		"other/" + id + "/a.png":                false,
		"attempts/" + id + "/../../secret.json": false,
	}
	for key, want := range cases {
		if got := ValidKey(key); got != want {
			t.Fatalf("ValidKey(%q): want=%v got=%v", key, want, got)
		}
	}
}
