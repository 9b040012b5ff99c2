// Package memorymirror keeps a per-principal Markdown file on disk in sync
// with the repository's Notes table, so an operator can read and hand-edit a
// user's memory in a text editor instead of only through the chat surface
// (spec §4.5/§5's sync guard).
package memorymirror

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
)

// Mirror renders a principal's notes to a Markdown file and parses edits
// back out of it. One Mirror instance is scoped to a single base directory;
// the caller (the fsnotify-backed Watcher) owns the polling loop.
type Mirror struct {
	repo repository.Repository
	dir  string
	md   goldmark.Markdown
}

func New(repo repository.Repository, dir string) *Mirror {
	return &Mirror{repo: repo, dir: dir, md: goldmark.New()}
}

func (m *Mirror) pathFor(principal string) string {
	return filepath.Join(m.dir, sanitizeFilename(principal)+".md")
}

// Render writes principal's current notes to disk as one H2 section per
// note, title then content. cmd/serve.go calls it after each successfully
// handled inbound message.
func (m *Mirror) Render(ctx context.Context, principal string) error {
	notes, err := m.repo.ListNotes(ctx, principal)
	if err != nil {
		return fmt.Errorf("memorymirror: list notes: %w", err)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.Before(notes[j].CreatedAt) })

	var b strings.Builder
	fmt.Fprintf(&b, "# Notes for %s\n\n", principal)
	for _, n := range notes {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", n.Title, n.Content)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("memorymirror: mkdir: %w", err)
	}
	return os.WriteFile(m.pathFor(principal), []byte(b.String()), 0644)
}

// Sync parses principal's file on disk and adds any note whose title isn't
// already present in the store — a human editing the file by hand (adding a
// new "## Title" section) gets it picked up as a real note on the next
// fsnotify event. Sync never deletes or edits existing notes: the mirror is
// additive-only, matching the store's own append-only Notes model.
func (m *Mirror) Sync(ctx context.Context, principal string) error {
	path := m.pathFor(principal)
	source, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memorymirror: read %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := m.md.Convert(source, &buf); err != nil {
		return fmt.Errorf("memorymirror: parse %s: %w", path, err)
	}
	sections := sectionsFromHTML(buf.String())

	existing, err := m.repo.ListNotes(ctx, principal)
	if err != nil {
		return fmt.Errorf("memorymirror: list notes: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n.Title] = true
	}

	for _, s := range sections {
		if have[s.title] || s.title == "" {
			continue
		}
		if _, err := m.repo.AddNote(ctx, principal, s.title, s.content); err != nil {
			return fmt.Errorf("memorymirror: add note %q: %w", s.title, err)
		}
	}
	return nil
}

type section struct {
	title   string
	content string
}

var (
	h2Pattern = regexp.MustCompile(`(?s)<h2>(.*?)</h2>`)
	pPattern  = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagStrip  = regexp.MustCompile(`<[^>]+>`)
)

// sectionsFromHTML pairs each h2 heading goldmark's default HTML renderer
// produced with the paragraph text following it, up to the next h2. Relying
// on goldmark's own HTML output (rather than walking its AST directly) keeps
// this parser independent of internal AST node shapes across versions.
func sectionsFromHTML(rendered string) []section {
	headingLocs := h2Pattern.FindAllStringIndex(rendered, -1)
	if len(headingLocs) == 0 {
		return nil
	}
	var out []section
	for i, loc := range headingLocs {
		titleMatch := h2Pattern.FindStringSubmatch(rendered[loc[0]:loc[1]])
		title := cleanText(titleMatch[1])

		end := len(rendered)
		if i+1 < len(headingLocs) {
			end = headingLocs[i+1][0]
		}
		body := rendered[loc[1]:end]

		var parts []string
		for _, pm := range pPattern.FindAllStringSubmatch(body, -1) {
			if t := cleanText(pm[1]); t != "" {
				parts = append(parts, t)
			}
		}
		out = append(out, section{title: title, content: strings.Join(parts, "\n")})
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagStrip.ReplaceAllString(s, "")))
}

func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
