package ingest

import (
	"strings"
	"testing"
)

func TestNormalize_StripsControlCharacters(t *testing.T) {
	got := Normalize("senior\x00 engineer\x07 at\x1b acme")
	want := "senior engineer at acme"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalize_Dehyphenation(t *testing.T) {
	got := Normalize("five years of experi-\nence in distributed systems")
	if !strings.Contains(got, "experience") {
		t.Errorf("line-wrap hyphen not rejoined: %q", got)
	}

	// A hyphen before an uppercase word is a real hyphen, not a line wrap.
	got = Normalize("worked on the X-\nRay imaging pipeline")
	if strings.Contains(got, "XRay") {
		t.Errorf("legitimate hyphen removed: %q", got)
	}
}

func TestNormalize_StripsPageNumbers(t *testing.T) {
	in := "skills summary\n2\nPage 3\n2 of 5\n4/7\nemployment history"
	got := Normalize(in)
	for _, artifact := range []string{"2 of 5", "Page 3", "4/7"} {
		if strings.Contains(got, artifact) {
			t.Errorf("page artifact %q survived: %q", artifact, got)
		}
	}
	if !strings.Contains(got, "skills summary") || !strings.Contains(got, "employment history") {
		t.Errorf("content lines lost: %q", got)
	}
}

func TestNormalize_StripsRepeatedHeaders(t *testing.T) {
	header := "Jane Doe - Confidential"
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString(header + "\n")
		b.WriteString("page body paragraph number ")
		b.WriteByte(byte('1' + i))
		b.WriteString(" with unique content\n")
	}
	got := Normalize(b.String())
	if strings.Contains(got, "Confidential") {
		t.Errorf("repeated header survived: %q", got)
	}
	if !strings.Contains(got, "page body paragraph number 2") {
		t.Errorf("body content lost: %q", got)
	}
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize("a    b\t\tc\n\n\n\n\nd")
	want := "a b c\n\nd"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	in := "Header\nHeader\nHeader\nbody   text\nwith-\nwraps\n3\n"
	if Normalize(in) != Normalize(in) {
		t.Error("normalization is not deterministic")
	}
}

func TestIndexable(t *testing.T) {
	if Indexable("too short") {
		t.Error("short text should not be indexable")
	}
	if !Indexable(strings.Repeat("experienced engineer ", 10)) {
		t.Error("substantial text should be indexable")
	}
}
