package watcher

import "strings"

// Page is a wiki page file split into its header fields and body.
type Page struct {
	Title   string
	Tags    string
	Headers map[string]string
	Body    string
}

// ParsePage splits raw page text. A page may start with "Key: value" header
// lines ended by a blank line; keys are matched case-insensitively. Text
// that does not start with a header line is all body.
func ParsePage(raw string) Page {
	raw = strings.TrimPrefix(raw, "\ufeff")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	p := Page{Headers: make(map[string]string)}

	rest := raw
	for rest != "" {
		line, after, _ := strings.Cut(rest, "\n")
		if strings.TrimSpace(line) == "" {
			if len(p.Headers) > 0 {
				rest = after
			}
			break
		}
		key, value, ok := headerLine(line)
		if !ok {
			break
		}
		p.Headers[key] = value
		rest = after
	}
	if len(p.Headers) == 0 {
		rest = raw
	}
	p.Body = rest
	p.Title = p.Headers["title"]
	p.Tags = p.Headers["tags"]
	return p
}

func headerLine(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}
