package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header persisted ahead of the markdown body.
// Section line counts are recorded so decoding slices the body exactly;
// body content is opaque text and may itself contain heading-shaped lines.
type frontmatter struct {
	Title    string        `yaml:"title"`
	Status   Status        `yaml:"status"`
	Links    []Link        `yaml:"links,omitempty"`
	Children []string      `yaml:"children,omitempty"`
	Sections []sectionMeta `yaml:"sections"`
}

// sectionMeta indexes one section: its title and how many body lines follow
// its heading. Bodies always end with a newline (Write normalizes them), so
// a line count addresses them exactly.
type sectionMeta struct {
	Title string `yaml:"title"`
	Lines int    `yaml:"lines"`
}

const frontmatterFence = "---\n"

// encode renders a document as markdown with a YAML frontmatter header.
// Sections become level-2 headings for readability; the frontmatter index,
// not the headings, is what decode trusts.
func encode(d *Document) ([]byte, error) {
	metas := make([]sectionMeta, len(d.Sections))
	for i, s := range d.Sections {
		metas[i] = sectionMeta{Title: s.Title, Lines: strings.Count(s.Body, "\n")}
	}
	fm, err := yaml.Marshal(frontmatter{
		Title:    d.Title,
		Status:   d.Status,
		Links:    d.Links,
		Children: d.Children,
		Sections: metas,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontmatterFence)
	b.Write(fm)
	b.WriteString(frontmatterFence)
	b.WriteString("# " + d.Title + "\n")
	for _, s := range d.Sections {
		b.WriteString("## " + s.Title + "\n")
		b.WriteString(s.Body)
	}
	return []byte(b.String()), nil
}

// decode parses a persisted document file.
func decode(path string, data []byte) (*Document, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterFence) {
		return nil, fmt.Errorf("document %s: missing frontmatter", path)
	}
	rest := text[len(frontmatterFence):]
	idx := strings.Index(rest, "\n"+frontmatterFence)
	if idx < 0 {
		return nil, fmt.Errorf("document %s: unterminated frontmatter", path)
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:idx+1]), &fm); err != nil {
		return nil, fmt.Errorf("document %s: parse frontmatter: %w", path, err)
	}

	doc := &Document{
		Path:     path,
		Title:    fm.Title,
		Status:   fm.Status,
		Links:    fm.Links,
		Children: fm.Children,
	}

	body := rest[idx+1+len(frontmatterFence):]
	if fm.Sections != nil {
		sections, err := sliceSections(path, body, fm.Sections)
		if err != nil {
			return nil, err
		}
		doc.Sections = sections
		return doc, nil
	}
	doc.Sections = parseSections(body)
	return doc, nil
}

// sliceSections cuts the body along the recorded line counts. Heading lines
// are positional markers only; bodies are copied verbatim, so a body line
// that happens to start with "## " survives the round trip.
func sliceSections(path, body string, metas []sectionMeta) ([]Section, error) {
	lines := strings.SplitAfter(body, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	pos := 0
	if pos < len(lines) && strings.HasPrefix(lines[pos], "# ") {
		pos++
	}
	sections := make([]Section, 0, len(metas))
	for i, meta := range metas {
		if pos >= len(lines) || !strings.HasPrefix(lines[pos], "## ") {
			return nil, fmt.Errorf("document %s: section %q: heading missing at line %d", path, meta.Title, pos+1)
		}
		pos++
		if pos+meta.Lines > len(lines) {
			return nil, fmt.Errorf("document %s: section %q: body truncated", path, meta.Title)
		}
		sections = append(sections, Section{
			Title:    meta.Title,
			Body:     strings.Join(lines[pos:pos+meta.Lines], ""),
			Position: i,
		})
		pos += meta.Lines
	}
	return sections, nil
}

// parseSections splits a markdown body into sections at level-2 headings.
// It is the fallback for files without a frontmatter section index, such as
// documents dropped into the workspace by hand. Text ahead of the first
// heading (including the title line) is skipped.
func parseSections(body string) []Section {
	var sections []Section
	lines := strings.SplitAfter(body, "\n")
	var current *Section
	for _, line := range lines {
		if title, ok := strings.CutPrefix(line, "## "); ok {
			sections = append(sections, Section{
				Title:    strings.TrimRight(title, "\n"),
				Position: len(sections),
			})
			current = &sections[len(sections)-1]
			continue
		}
		if current != nil {
			current.Body += line
		}
	}
	return sections
}

// save persists a document with a temp-file rename so readers never observe
// a partial write.
func save(dir string, d *Document) error {
	data, err := encode(d)
	if err != nil {
		return err
	}
	final := filepath.Join(dir, d.Path+".md")
	tmp, err := os.CreateTemp(dir, "."+d.Path+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", d.Path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", d.Path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", d.Path, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", d.Path, err)
	}
	return nil
}

// load reads every persisted document under dir.
func load(dir string) (map[string]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read document directory: %w", err)
	}
	docs := make(map[string]*Document)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", name, err)
		}
		path := strings.TrimSuffix(name, ".md")
		doc, err := decode(path, data)
		if err != nil {
			return nil, err
		}
		docs[path] = doc
	}
	return docs, nil
}
