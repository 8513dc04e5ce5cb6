package sanitize

import (
	"bytes"
	"strings"

	"github.com/gorilla/css/scanner"
)

// blockedSchemes are URL schemes that execute or smuggle content.
var blockedSchemes = []string{"javascript:", "vbscript:", "data:"}

// CSS filters a stylesheet. Declarations using expression(), binding
// properties, or executable url() schemes are dropped whole; @import and
// @charset rules are removed. Everything else passes through untouched.
func (s *Sanitizer) CSS(css string) string {
	tokens := tokenize(css)
	var b bytes.Buffer
	b.Grow(len(css))

	declStart := 0 // buffer offset where the current declaration began
	stripped := false
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok.Type == scanner.TokenComment:
			continue

		case tok.Type == scanner.TokenAtKeyword && isBlockedAtRule(tok.Value):
			i = skipStatement(tokens, i)
			stripped = true
			continue

		case tok.Type == scanner.TokenFunction && isExpression(tok.Value):
			b.Truncate(declStart)
			i = skipDeclaration(tokens, i, &b)
			declStart = b.Len()
			stripped = true
			continue

		case tok.Type == scanner.TokenURI && hasBlockedScheme(tok.Value):
			b.Truncate(declStart)
			i = skipDeclaration(tokens, i, &b)
			declStart = b.Len()
			stripped = true
			continue

		case tok.Type == scanner.TokenIdent && isBindingProperty(tok.Value):
			b.Truncate(declStart)
			i = skipDeclaration(tokens, i, &b)
			declStart = b.Len()
			stripped = true
			continue
		}

		b.WriteString(tok.Value)
		if tok.Type == scanner.TokenChar {
			switch tok.Value {
			case ";", "{", "}":
				declStart = b.Len()
			}
		}
	}

	if stripped && s.metrics != nil {
		s.metrics.SanitizerStrips.WithLabelValues("css").Inc()
	}
	return b.String()
}

// ScopeCSS rewrites every selector so the stylesheet only applies inside the
// element with the given id. Conditional at-rules are scoped recursively;
// @keyframes and @font-face bodies pass through as is.
func ScopeCSS(scopeID, css string) string {
	if !ValidScopeID(scopeID) {
		return ""
	}
	tokens := tokenize(css)
	var b strings.Builder
	b.Grow(len(css) + 64)
	scopeRules(tokens, "#"+scopeID, &b)
	return b.String()
}

func tokenize(css string) []*scanner.Token {
	sc := scanner.New(css)
	var tokens []*scanner.Token
	for {
		tok := sc.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

// skipStatement drops tokens through the terminating semicolon or, when the
// rule opens a block, through the matching closing brace.
func skipStatement(tokens []*scanner.Token, i int) int {
	depth := 0
	for ; i < len(tokens); i++ {
		if tokens[i].Type != scanner.TokenChar {
			continue
		}
		switch tokens[i].Value {
		case ";":
			if depth == 0 {
				return i
			}
		case "{":
			depth++
		case "}":
			depth--
			if depth <= 0 {
				return i
			}
		}
	}
	return i
}

// skipDeclaration drops tokens through the end of the current declaration.
// A closing brace ends the declaration and is kept.
func skipDeclaration(tokens []*scanner.Token, i int, b *bytes.Buffer) int {
	for ; i < len(tokens); i++ {
		if tokens[i].Type != scanner.TokenChar {
			continue
		}
		switch tokens[i].Value {
		case ";":
			return i
		case "}":
			b.WriteString("}")
			return i
		}
	}
	return i
}

func scopeRules(tokens []*scanner.Token, scope string, b *strings.Builder) {
	i := 0
	for i < len(tokens) {
		// Gather the rule prelude.
		start := i
		for i < len(tokens) {
			if tokens[i].Type == scanner.TokenChar && (tokens[i].Value == "{" || tokens[i].Value == ";") {
				break
			}
			i++
		}
		prelude := tokens[start:i]

		if i >= len(tokens) {
			return
		}
		if tokens[i].Value == ";" {
			writeTokens(b, prelude)
			b.WriteString(";")
			i++
			continue
		}

		// Block rule: find the matching closing brace.
		depth := 1
		bodyStart := i + 1
		j := bodyStart
		for ; j < len(tokens) && depth > 0; j++ {
			if tokens[j].Type != scanner.TokenChar {
				continue
			}
			switch tokens[j].Value {
			case "{":
				depth++
			case "}":
				depth--
			}
		}
		body := tokens[bodyStart : j-1]

		if at := atKeyword(prelude); at != "" {
			writeTokens(b, prelude)
			b.WriteString("{")
			if at == "@media" || at == "@supports" || at == "@container" {
				scopeRules(body, scope, b)
			} else {
				writeTokens(b, body)
			}
			b.WriteString("}")
		} else {
			b.WriteString(scopeSelectors(prelude, scope))
			b.WriteString("{")
			writeTokens(b, body)
			b.WriteString("}")
		}
		i = j
	}
}

func scopeSelectors(prelude []*scanner.Token, scope string) string {
	var raw strings.Builder
	writeTokens(&raw, prelude)

	parts := strings.Split(raw.String(), ",")
	for k, part := range parts {
		sel := strings.TrimSpace(part)
		if sel == "" {
			continue
		}
		switch strings.ToLower(sel) {
		case "html", "body", ":root":
			parts[k] = scope
		default:
			parts[k] = scope + " " + sel
		}
	}
	return strings.Join(parts, ", ")
}

func writeTokens(b *strings.Builder, tokens []*scanner.Token) {
	for _, tok := range tokens {
		if tok.Type == scanner.TokenComment {
			continue
		}
		b.WriteString(tok.Value)
	}
}

func atKeyword(prelude []*scanner.Token) string {
	for _, tok := range prelude {
		if tok.Type == scanner.TokenS {
			continue
		}
		if tok.Type == scanner.TokenAtKeyword {
			return strings.ToLower(tok.Value)
		}
		return ""
	}
	return ""
}

func isBlockedAtRule(value string) bool {
	v := strings.ToLower(value)
	return v == "@import" || v == "@charset"
}

func isExpression(value string) bool {
	return strings.HasPrefix(strings.ToLower(value), "expression(")
}

func isBindingProperty(value string) bool {
	v := strings.ToLower(value)
	return v == "behavior" || strings.HasSuffix(v, "-binding")
}

func hasBlockedScheme(uri string) bool {
	inner := strings.ToLower(strings.TrimSpace(uri))
	inner = strings.TrimPrefix(inner, "url(")
	inner = strings.TrimSuffix(inner, ")")
	inner = strings.Trim(inner, ` "'`)
	for _, scheme := range blockedSchemes {
		if strings.HasPrefix(inner, scheme) {
			return true
		}
	}
	return false
}
