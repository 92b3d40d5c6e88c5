package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/css/scanner"
)

// fallbackURLRe catches url(...) values the tokenizer gives up on, such as
// unquoted urls containing spaces.
var fallbackURLRe = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// imageFunctions are the CSS functions whose string arguments are image urls.
var imageFunctions = map[string]bool{
	"url":               true,
	"image-set":         true,
	"-webkit-image-set": true,
}

// CSSURLs returns every url referenced by a CSS property value, in order:
// url(...) tokens in any quoting style, and strings inside image-set().
func CSSURLs(value string) []string {
	if !strings.Contains(strings.ToLower(value), "url(") && !strings.Contains(strings.ToLower(value), "image-set(") {
		return nil
	}

	var out []string
	var stack []string
	s := scanner.New(value)
loop:
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			break loop
		case scanner.TokenError:
			if len(out) == 0 {
				return fallbackURLs(value)
			}
			break loop
		case scanner.TokenURI:
			if u := uriValue(tok.Value); u != "" {
				out = append(out, u)
			}
		case scanner.TokenFunction:
			stack = append(stack, strings.ToLower(strings.TrimSuffix(tok.Value, "(")))
		case scanner.TokenChar:
			switch tok.Value {
			case "(":
				stack = append(stack, "")
			case ")":
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		case scanner.TokenString:
			if len(stack) > 0 && imageFunctions[stack[len(stack)-1]] {
				if u := unquote(tok.Value); u != "" {
					out = append(out, u)
				}
			}
		}
	}
	if len(out) == 0 {
		return fallbackURLs(value)
	}
	return out
}

func fallbackURLs(value string) []string {
	var out []string
	for _, m := range fallbackURLRe.FindAllStringSubmatch(value, -1) {
		if u := strings.TrimSpace(m[1]); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// uriValue extracts the reference from a url(...) token.
func uriValue(tok string) string {
	if len(tok) < 5 {
		return ""
	}
	inner := strings.Trim(tok[4:len(tok)-1], " \t\n\r\f")
	if inner == "" {
		return ""
	}
	if inner[0] == '"' || inner[0] == '\'' {
		return unquote(inner)
	}
	return unescape(inner)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(unescape(s))
}

// unescape resolves CSS backslash escapes: hex code points and literal chars.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(s) && j < i+7 && isHex(s[j]) {
			j++
		}
		if j > i+1 {
			if r, err := strconv.ParseUint(s[i+1:j], 16, 32); err == nil {
				b.WriteRune(rune(r))
			}
			if j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
				j++
			}
			i = j - 1
			continue
		}
		if s[i+1] != '\n' {
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
