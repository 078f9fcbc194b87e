package plugins

import (
	"fmt"
	"strings"
)

// Meta carries the structured values of a log line or templated error.
type Meta = map[string]any

// FormatTemplate replaces every {key} or ${key} placeholder in template with
// fmt.Sprint(meta[key]). Placeholders whose key is absent from meta, and
// unterminated braces, are left verbatim.
func FormatTemplate(template string, meta Meta) string {
	if len(meta) == 0 || !strings.Contains(template, "{") {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		c := template[i]
		start := i
		if c == '$' && i+1 < len(template) && template[i+1] == '{' {
			i++
			c = '{'
		}
		if c != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i+1:], '}')
		if end < 0 {
			b.WriteString(template[start:])
			break
		}
		key := template[i+1 : i+1+end]
		if inner := strings.LastIndexByte(key, '{'); inner >= 0 {
			// Rescan from the innermost opening brace.
			restart := i + 1 + inner
			if template[restart-1] == '$' {
				restart--
			}
			b.WriteString(template[start:restart])
			i = restart
			continue
		}
		next := i + 1 + end + 1
		if v, ok := meta[key]; ok && validKey(key) {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(template[start:next])
		}
		i = next
	}
	return b.String()
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r == '{' || r == ' ' || r == '\n' || r == '\t' {
			return false
		}
	}
	return true
}
