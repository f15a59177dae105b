package core

import (
	"fmt"
	"strings"
	"unicode"
)

// reservedNameChars cannot appear in entry names on common filesystems.
const reservedNameChars = `/\:*?"<>|`

// ResolveName returns the archive entry name for the record at index.
//
// The base comes from rc[displayField] with reserved and control characters
// removed and whitespace runs collapsed to "_". An empty base falls back to
// record_<n>. The 1-based position suffix keeps names unique within a batch
// even when display values repeat.
func ResolveName(index int, rc RenderContext, displayField, templateID, ext string) string {
	base := sanitizeNamePart(rc[displayField])
	if base == "" {
		base = fmt.Sprintf("record_%d", index+1)
	}

	name := fmt.Sprintf("%s_%s_%d", base, templateID, index+1)
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return name
}

func sanitizeNamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r), strings.ContainsRune(reservedNameChars, r):
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	return strings.Trim(b.String(), "._")
}

// NormalizeTemplateID turns a user-supplied company or template name into a
// storage-safe id: whitespace becomes "_", anything outside [A-Za-z0-9._-]
// is dropped and leading or trailing dots and underscores are stripped.
func NormalizeTemplateID(raw string) (string, error) {
	var b strings.Builder
	for _, field := range strings.Fields(raw) {
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		for _, r := range field {
			if isTemplateIDRune(r) {
				b.WriteRune(r)
			}
		}
	}

	id := strings.Trim(b.String(), "._")
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplateID, raw)
	}
	return id, nil
}

func isTemplateIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
