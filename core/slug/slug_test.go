package slug

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Midnight Drive", "midnight-drive"},
		{"Rock & Roll!!", "rock-roll"},
		{"  spaced   out  ", "spaced-out"},
		{"UPPER lower 123", "upper-lower-123"},
		{"éclair", "clair"},
		{"---", ""},
		{"", ""},
		{"already-slugged", "already-slugged"},
		{"a.b.c", "a-b-c"},
	}

	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	titles := []string{"Rock & Roll!!", "Midnight Drive", "a   b", "日本語タイトル"}
	for _, title := range titles {
		first := Normalize(title)
		for i := 0; i < 10; i++ {
			if got := Normalize(title); got != first {
				t.Fatalf("Normalize(%q) not deterministic: %q then %q", title, first, got)
			}
		}
		// Idempotent: normalizing a slug changes nothing.
		if got := Normalize(first); got != first {
			t.Fatalf("Normalize not idempotent for %q: %q -> %q", title, first, got)
		}
	}
}

func TestNormalizeNoHyphenRuns(t *testing.T) {
	got := Normalize("Rock & Roll!!")
	if got != "rock-roll" {
		t.Fatalf("unexpected slug: %q", got)
	}
	for i := 0; i+1 < len(got); i++ {
		if got[i] == '-' && got[i+1] == '-' {
			t.Fatalf("slug %q contains a double hyphen", got)
		}
	}
	if len(got) > 0 && (got[0] == '-' || got[len(got)-1] == '-') {
		t.Fatalf("slug %q has leading or trailing hyphen", got)
	}
}
