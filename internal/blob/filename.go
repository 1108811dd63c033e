package blob

import "strings"

// SlugFilename converts a human title into a safe filename with the given
// extension: lowercased, runs of non-alphanumeric characters collapsed to
// a single underscore, leading/trailing underscores trimmed.
// "My Note" with ext ".md" becomes "my_note.md".
func SlugFilename(title, ext string) string {
	var b strings.Builder
	lastUnderscore := true // suppress a leading underscore
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "_")
	if slug == "" {
		slug = "untitled"
	}
	return slug + ext
}

// ShortID returns an 8-character prefix of a hash or device id for log
// output. Full identifiers never go to logs.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
