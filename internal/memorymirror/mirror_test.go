package memorymirror

import "testing"

func TestSectionsFromHTMLPairsHeadingsWithFollowingParagraphs(t *testing.T) {
	rendered := "<h1>Notes for alice</h1>\n" +
		"<h2>Favorite color</h2>\n<p>Blue, specifically teal.</p>\n" +
		"<h2>Timezone</h2>\n<p>Europe/Lisbon.</p>\n<p>Prefers morning calls.</p>\n"

	sections := sectionsFromHTML(rendered)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d: %+v", len(sections), sections)
	}
	if sections[0].title != "Favorite color" || sections[0].content != "Blue, specifically teal." {
		t.Fatalf("unexpected first section: %+v", sections[0])
	}
	if sections[1].title != "Timezone" {
		t.Fatalf("unexpected second section title: %q", sections[1].title)
	}
	if sections[1].content != "Europe/Lisbon.\nPrefers morning calls." {
		t.Fatalf("expected both paragraphs joined, got %q", sections[1].content)
	}
}

func TestSectionsFromHTMLReturnsNilWithoutHeadings(t *testing.T) {
	if got := sectionsFromHTML("<p>just a paragraph, no sections</p>"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestSectionsFromHTMLUnescapesEntities(t *testing.T) {
	rendered := "<h2>Q&amp;A notes</h2>\n<p>Likes &lt;tags&gt; and &amp; symbols.</p>\n"
	sections := sectionsFromHTML(rendered)
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].title != "Q&A notes" {
		t.Fatalf("expected unescaped title, got %q", sections[0].title)
	}
	if sections[0].content != "Likes <tags> and & symbols." {
		t.Fatalf("expected unescaped content, got %q", sections[0].content)
	}
}

func TestSectionsFromHTMLSkipsEmptyParagraphs(t *testing.T) {
	rendered := "<h2>Title</h2>\n<p></p>\n<p>  </p>\n<p>Real content.</p>\n"
	sections := sectionsFromHTML(rendered)
	if len(sections) != 1 || sections[0].content != "Real content." {
		t.Fatalf("expected blank paragraphs skipped, got %+v", sections)
	}
}

func TestSanitizeFilenameKeepsSafeCharacters(t *testing.T) {
	if got := sanitizeFilename("alice-2024_test"); got != "alice-2024_test" {
		t.Fatalf("expected unchanged safe filename, got %q", got)
	}
}

func TestSanitizeFilenameReplacesUnsafeCharacters(t *testing.T) {
	got := sanitizeFilename("+1 555/867-5309")
	for _, r := range got {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			t.Fatalf("unexpected unsafe character %q survived sanitizing: %q", r, got)
		}
	}
}

func TestSanitizeFilenameFallsBackOnEmptyInput(t *testing.T) {
	if got := sanitizeFilename(""); got != "unknown" {
		t.Fatalf("expected fallback for empty principal, got %q", got)
	}
	if got := sanitizeFilename("///"); got == "" {
		t.Fatalf("expected non-empty fallback for all-unsafe input, got %q", got)
	}
}
