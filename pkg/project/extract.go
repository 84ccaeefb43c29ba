package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Extraction is the result of pulling text out of a document file.
type Extraction struct {
	Text     string
	Title    string
	Warnings []string
}

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlScriptPattern = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
	htmlTitlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	whitespacePattern = regexp.MustCompile(`[ \t]+`)
)

// ExtractText extracts plain text from a file according to its extension.
// Plain text and markdown are read as UTF-8; HTML has tags stripped; JSON is
// flattened to "key: value" lines; anything else produces a placeholder so
// the document still round-trips through the pipeline.
func ExtractText(path, originalName string) (*Extraction, error) {
	name := originalName
	if name == "" {
		name = filepath.Base(path)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	out := &Extraction{Title: name}
	switch ext {
	case "txt", "md", "markdown", "rst", "csv":
		out.Text = string(raw)
		if !utf8.Valid(raw) {
			out.Text = strings.ToValidUTF8(string(raw), "�")
			out.Warnings = append(out.Warnings, "file contained invalid UTF-8; replaced offending bytes")
		}
		if ext == "md" || ext == "markdown" {
			if title := firstMarkdownHeading(out.Text); title != "" {
				out.Title = title
			}
		}
	case "html", "htm":
		text := string(raw)
		if m := htmlTitlePattern.FindStringSubmatch(text); len(m) == 2 {
			if title := strings.TrimSpace(m[1]); title != "" {
				out.Title = title
			}
		}
		text = htmlScriptPattern.ReplaceAllString(text, " ")
		text = htmlTagPattern.ReplaceAllString(text, " ")
		out.Text = collapseWhitespace(text)
	case "json":
		flattened, err := flattenJSON(raw)
		if err != nil {
			out.Text = string(raw)
			out.Warnings = append(out.Warnings, fmt.Sprintf("invalid JSON, kept raw text: %v", err))
		} else {
			out.Text = flattened
		}
	default:
		out.Text = fmt.Sprintf("[unsupported format: %s] %s", ext, name)
		out.Warnings = append(out.Warnings, fmt.Sprintf("no text extractor for .%s files", ext))
	}
	return out, nil
}

func firstMarkdownHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// flattenJSON renders a JSON document as sorted "path: value" lines.
func flattenJSON(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	entries := map[string]string{}
	flattenValue("", doc, entries)

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(entries[k])
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func flattenValue(prefix string, v any, out map[string]string) {
	switch tv := v.(type) {
	case map[string]any:
		for k, child := range tv {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenValue(key, child, out)
		}
	case []any:
		for i, child := range tv {
			flattenValue(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	default:
		key := prefix
		if key == "" {
			key = "value"
		}
		out[key] = fmt.Sprint(tv)
	}
}
