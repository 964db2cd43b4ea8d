package render

import (
	"strings"
	"testing"
)

func TestMarkdown(t *testing.T) {
	got, err := Markdown("**Paris** is the capital.\n\n- one\n- two\n")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<strong>Paris</strong>", "<li>one</li>", "<ul>"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestMarkdownOmitsRawHTML(t *testing.T) {
	got, err := Markdown("<script>alert(1)</script>")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "<script>") {
		t.Errorf("raw html should be omitted: %q", got)
	}
}

func TestIdentity(t *testing.T) {
	got, _ := Identity("*as is*")
	if got != "*as is*" {
		t.Errorf("unexpected: %q", got)
	}
}
