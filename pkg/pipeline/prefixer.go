package pipeline

import (
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// propertyPrefixes lists the vendor prefixes still needed by the last eight versions of the major browsers
var propertyPrefixes = map[string][]string{
	"appearance":                {"-webkit-", "-moz-"},
	"backdrop-filter":           {"-webkit-"},
	"box-decoration-break":      {"-webkit-"},
	"clip-path":                 {"-webkit-"},
	"font-kerning":              {"-webkit-"},
	"hyphens":                   {"-webkit-", "-ms-"},
	"print-color-adjust":        {"-webkit-"},
	"tab-size":                  {"-moz-"},
	"text-decoration-color":     {"-webkit-"},
	"text-decoration-line":      {"-webkit-"},
	"text-decoration-skip":      {"-webkit-"},
	"text-decoration-style":     {"-webkit-"},
	"text-emphasis":             {"-webkit-"},
	"text-emphasis-color":       {"-webkit-"},
	"text-emphasis-position":    {"-webkit-"},
	"text-emphasis-style":       {"-webkit-"},
	"text-size-adjust":          {"-webkit-", "-moz-", "-ms-"},
	"user-select":               {"-webkit-", "-moz-", "-ms-"},
	"writing-mode":              {"-webkit-", "-ms-"},
	"text-orientation":          {"-webkit-"},
	"box-reflect":               {"-webkit-"},
	"initial-letter":            {"-webkit-"},
	"text-decoration-thickness": {"-webkit-"},
}

// mask and all mask-* properties
var maskPrefixes = []string{"-webkit-"}

type valuePrefix struct {
	keyword  string
	prefixes []string
}

var sizeProperties = map[string]bool{
	"width":      true,
	"min-width":  true,
	"max-width":  true,
	"height":     true,
	"min-height": true,
	"max-height": true,
	"flex-basis": true,
}

var sizeKeywords = []valuePrefix{
	{"fit-content", []string{"-webkit-", "-moz-"}},
	{"min-content", []string{"-webkit-", "-moz-"}},
	{"max-content", []string{"-webkit-", "-moz-"}},
}

func prefixesFor(prop string) []string {
	if prefixes, ok := propertyPrefixes[prop]; ok {
		return prefixes
	}

	if prop == "mask" || strings.HasPrefix(prop, "mask-") {
		return maskPrefixes
	}

	return nil
}

func valuePrefixesFor(prop string) []valuePrefix {
	if prop == "position" {
		return []valuePrefix{{"sticky", []string{"-webkit-"}}}
	}

	if sizeProperties[prop] {
		return sizeKeywords
	}

	return nil
}

// PrefixOptions controls Prefix
type PrefixOptions struct {
	// Cascade aligns the values of prefixed declarations when they're on their own lines
	Cascade bool
}

type cssToken struct {
	tt   css.TokenType
	text string
}

type cssSegment struct {
	tokens []cssToken
	delim  byte
}

func (seg cssSegment) text() string {
	var buf strings.Builder
	for _, tok := range seg.tokens {
		buf.WriteString(tok.text)
	}
	return buf.String()
}

// splitCSS cuts the stylesheet at every {, } and ; outside of parentheses and brackets. Strings, comments and
// url() are single tokens, so delimiters inside them are left alone. The last segment has delim 0.
func splitCSS(source string) ([]cssSegment, bool) {
	lexer := css.NewLexer(parse.NewInputString(source))
	var segments []cssSegment
	var current []cssToken
	nesting := 0

	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			if lexer.Err() != io.EOF {
				return nil, false
			}
			break
		}

		var delim byte
		switch tt {
		case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
			nesting++
		case css.RightParenthesisToken, css.RightBracketToken:
			if nesting > 0 {
				nesting--
			}
		case css.LeftBraceToken:
			delim = '{'
		case css.RightBraceToken:
			delim = '}'
		case css.SemicolonToken:
			delim = ';'
		}

		if delim != 0 && nesting == 0 {
			segments = append(segments, cssSegment{tokens: current, delim: delim})
			current = nil
			continue
		}

		current = append(current, cssToken{tt: tt, text: string(data)})
	}

	return append(segments, cssSegment{tokens: current}), true
}

type declaration struct {
	// head holds comments in front of the declaration, they're written once
	head    string
	leading string
	prop    string
	// rest is everything after the property name without trailing whitespace
	rest string
	tail string
}

func joinTokens(tokens []cssToken) string {
	return cssSegment{tokens: tokens}.text()
}

// parseDeclaration recognizes "prop: value" segments, optionally preceded by whitespace and comments
func parseDeclaration(seg cssSegment) (declaration, bool) {
	tokens := seg.tokens

	propIdx := -1
	for idx, tok := range tokens {
		if tok.tt != css.WhitespaceToken && tok.tt != css.CommentToken {
			propIdx = idx
			break
		}
	}
	if propIdx < 0 || tokens[propIdx].tt != css.IdentToken {
		return declaration{}, false
	}

	next := propIdx + 1
	for next < len(tokens) && tokens[next].tt == css.WhitespaceToken {
		next++
	}
	if next == len(tokens) || tokens[next].tt != css.ColonToken {
		return declaration{}, false
	}

	leadStart := propIdx
	for leadStart > 0 && tokens[leadStart-1].tt == css.WhitespaceToken {
		leadStart--
	}

	end := len(tokens)
	for end > propIdx+1 && tokens[end-1].tt == css.WhitespaceToken {
		end--
	}

	return declaration{
		head:    joinTokens(tokens[:leadStart]),
		leading: joinTokens(tokens[leadStart:propIdx]),
		prop:    tokens[propIdx].text,
		rest:    joinTokens(tokens[propIdx+1 : end]),
		tail:    joinTokens(tokens[end:]),
	}, true
}

func (d declaration) value() string {
	value := strings.TrimPrefix(strings.TrimLeft(d.rest, " \t"), ":")
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeKey(prop, value string) string {
	return strings.ToLower(prop) + ":" + strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// blockKeys collects the declarations that are direct children of the block opened before segments[start]
func blockKeys(segments []cssSegment, start int) map[string]bool {
	keys := map[string]bool{}
	depth := 0

	for i := start; i < len(segments); i++ {
		seg := segments[i]
		if depth == 0 && (seg.delim == ';' || seg.delim == '}') {
			if decl, ok := parseDeclaration(seg); ok {
				keys[strings.ToLower(decl.prop)] = true
				keys[normalizeKey(decl.prop, decl.value())] = true
			}
		}

		switch seg.delim {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return keys
			}
			depth--
		}
	}

	return keys
}

// Prefix adds vendor prefixed declarations in front of standard declarations that still need them. Input the
// lexer can't read is returned unchanged.
func Prefix(source string, opts PrefixOptions) string {
	segments, ok := splitCSS(source)
	if !ok {
		return source
	}

	var out strings.Builder
	out.Grow(len(source) + len(source)/8)

	var blocks []map[string]bool
	for idx, seg := range segments {
		decl, ok := declaration{}, false
		if len(blocks) > 0 && (seg.delim == ';' || seg.delim == '}') {
			decl, ok = parseDeclaration(seg)
		}

		if ok {
			out.WriteString(decl.head)
			pad := writePrefixed(&out, decl, blocks[len(blocks)-1], opts)
			out.WriteString(decl.leading)
			out.WriteString(strings.Repeat(" ", pad))
			out.WriteString(decl.prop)
			out.WriteString(decl.rest)
			out.WriteString(decl.tail)
		} else {
			out.WriteString(seg.text())
		}

		if seg.delim != 0 {
			out.WriteByte(seg.delim)
		}

		switch seg.delim {
		case '{':
			blocks = append(blocks, blockKeys(segments, idx+1))
		case '}':
			if len(blocks) > 0 {
				blocks = blocks[:len(blocks)-1]
			}
		}
	}

	return out.String()
}

// writePrefixed writes the prefixed variants of decl and returns the indentation the standard declaration needs
// to line up with them.
func writePrefixed(out *strings.Builder, decl declaration, seen map[string]bool, opts PrefixOptions) int {
	prop := strings.ToLower(decl.prop)
	if strings.HasPrefix(prop, "-") {
		return 0
	}

	cascade := opts.Cascade && strings.Contains(decl.leading, "\n")
	prefixes := prefixesFor(prop)

	width := 0
	for _, prefix := range prefixes {
		if len(prefix) > width {
			width = len(prefix)
		}
	}

	wrote := false
	for _, prefix := range prefixes {
		if seen[prefix+prop] {
			continue
		}

		out.WriteString(decl.leading)
		if cascade {
			out.WriteString(strings.Repeat(" ", width-len(prefix)))
		}
		out.WriteString(prefix)
		out.WriteString(decl.prop)
		out.WriteString(decl.rest)
		out.WriteByte(';')
		wrote = true
	}

	value := decl.value()
	for _, vp := range valuePrefixesFor(prop) {
		if !strings.HasPrefix(value, vp.keyword) {
			continue
		}

		pos := strings.Index(strings.ToLower(decl.rest), vp.keyword)
		for _, prefix := range vp.prefixes {
			if seen[normalizeKey(prop, prefix+value)] {
				continue
			}

			out.WriteString(decl.leading)
			out.WriteString(decl.prop)
			out.WriteString(decl.rest[:pos])
			out.WriteString(prefix)
			out.WriteString(decl.rest[pos:])
			out.WriteByte(';')
		}
	}

	if wrote && cascade {
		return width
	}
	return 0
}
