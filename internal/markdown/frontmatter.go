package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatterDelim separates YAML frontmatter from the markdown body.
const frontmatterDelim = "---"

// SplitFrontmatter parses a database-entry file into its YAML property block
// and markdown body. Files without a frontmatter block return nil properties
// and the full input as body. A malformed block is a conversion error; the
// engine records it as a sticky per-entry failure.
func SplitFrontmatter(b []byte) (map[string]any, string, error) {
	s := string(b)

	if !strings.HasPrefix(s, frontmatterDelim+"\n") {
		return nil, s, nil
	}

	rest := s[len(frontmatterDelim)+1:]

	end := strings.Index(rest, "\n"+frontmatterDelim+"\n")
	if end < 0 {
		// Closing delimiter may terminate the file.
		if strings.HasSuffix(rest, "\n"+frontmatterDelim) {
			end = len(rest) - len("\n"+frontmatterDelim)
			rest += "\n"
		} else {
			return nil, "", fmt.Errorf("markdown: unterminated frontmatter block")
		}
	}

	var props map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &props); err != nil {
		return nil, "", fmt.Errorf("markdown: parsing frontmatter: %w", err)
	}

	body := strings.TrimPrefix(rest[end+len("\n"+frontmatterDelim+"\n"):], "\n")

	return props, body, nil
}

// ComposeFrontmatter renders properties and body into database-entry file
// bytes. Nil or empty properties yield the bare body. Output is canonical.
func ComposeFrontmatter(props map[string]any, body string) ([]byte, error) {
	if len(props) == 0 {
		return Canonicalize([]byte(body)), nil
	}

	var buf bytes.Buffer

	buf.WriteString(frontmatterDelim + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(props); err != nil {
		return nil, fmt.Errorf("markdown: encoding frontmatter: %w", err)
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("markdown: encoding frontmatter: %w", err)
	}

	buf.WriteString(frontmatterDelim + "\n\n")
	buf.WriteString(body)

	return Canonicalize(buf.Bytes()), nil
}
