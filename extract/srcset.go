package extract

import "strings"

// SrcsetURLs returns the url of every candidate in a srcset-style value,
// descriptors stripped. Commas inside data: URIs are kept; a url token that
// glues several plain urls with bare commas is split on them.
func SrcsetURLs(value string) []string {
	var out []string
	s := value
	i := 0
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		tok := s[start:i]
		if strings.HasSuffix(tok, ",") {
			tok = strings.TrimRight(tok, ",")
		} else {
			depth := 0
		desc:
			for i < len(s) {
				switch s[i] {
				case '(':
					depth++
				case ')':
					if depth > 0 {
						depth--
					}
				case ',':
					if depth == 0 {
						i++
						break desc
					}
				}
				i++
			}
		}
		if tok == "" {
			continue
		}
		if strings.Contains(tok, ",") && !strings.HasPrefix(strings.ToLower(tok), "data:") {
			for _, part := range strings.Split(tok, ",") {
				if part != "" {
					out = append(out, part)
				}
			}
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
