package htmldom

import "strings"

// shorthands maps a longhand image property to the shorthand that can carry it.
var shorthands = map[string]string{
	"background-image":   "background",
	"mask-image":         "mask",
	"-webkit-mask-image": "-webkit-mask",
}

// inlineProperty returns the value of prop in an inline style attribute,
// falling back to its shorthand. The last declaration wins.
func inlineProperty(style, prop string) string {
	if style == "" {
		return ""
	}
	decls := declarations(style)
	prop = strings.ToLower(prop)
	if v, ok := decls[prop]; ok {
		return v
	}
	if sh, ok := shorthands[prop]; ok {
		if v, ok := decls[sh]; ok && strings.Contains(strings.ToLower(v), "url(") {
			return v
		}
	}
	return ""
}

// declarations splits a declaration block on semicolons that are outside
// quotes and parentheses, so data: URIs and quoted urls survive intact.
func declarations(block string) map[string]string {
	out := make(map[string]string)
	var quote byte
	depth := 0
	start := 0
	flush := func(end int) {
		decl := block[start:end]
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			return
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
		if name != "" {
			out[name] = value
		}
	}
	for i := 0; i < len(block); i++ {
		c := block[i]
		switch {
		case c == '\\' && i+1 < len(block):
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(block))
	return out
}
