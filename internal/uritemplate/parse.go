package uritemplate

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTemplate tokenizes an RFC 6570 Level 4 subset template into a
// sequence of literal and expression tokens, and returns the distinct
// variable names referenced, in first-seen order.
func parseTemplate(template string) ([]token, []string, error) {
	var tokens []token
	var varNames []string
	seen := map[string]bool{}

	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			tokens = append(tokens, token{literal: template[i:]})
			break
		}
		open += i
		if open > i {
			tokens = append(tokens, token{literal: template[i:open]})
		}

		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			return nil, nil, fmt.Errorf("unterminated expression starting at offset %d", open)
		}
		close += open

		expr, err := parseExpression(template[open+1 : close])
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, expr)
		for _, v := range expr.vars {
			if !seen[v.name] {
				seen[v.name] = true
				varNames = append(varNames, v.name)
			}
		}

		i = close + 1
	}

	return tokens, varNames, nil
}

func parseExpression(body string) (token, error) {
	if body == "" {
		return token{}, fmt.Errorf("empty expression")
	}

	op := opSimple
	switch body[0] {
	case '+', '/', '#', '?':
		op = operator(body[0])
		body = body[1:]
	}
	if body == "" {
		return token{}, fmt.Errorf("expression has operator with no variables")
	}

	var vars []templateVar
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return token{}, fmt.Errorf("empty variable name in expression")
		}
		v := templateVar{name: part}
		switch {
		case strings.HasSuffix(part, "*"):
			v.explode = true
			v.name = strings.TrimSuffix(part, "*")
		case strings.Contains(part, ":"):
			segs := strings.SplitN(part, ":", 2)
			n, err := strconv.Atoi(segs[1])
			if err != nil || n <= 0 {
				return token{}, fmt.Errorf("invalid prefix modifier in %q", part)
			}
			v.name = segs[0]
			v.prefixLen = n
		}
		if v.name == "" {
			return token{}, fmt.Errorf("empty variable name in expression %q", part)
		}
		vars = append(vars, v)
	}

	return token{isExpr: true, op: op, vars: vars}, nil
}

// matchTokens attempts to match path against tokens in order, returning the
// bound variables on success.
func matchTokens(tokens []token, path string) (map[string]string, bool) {
	vars := make(map[string]string)
	pos := 0

	for i, t := range tokens {
		if !t.isExpr {
			if !strings.HasPrefix(path[pos:], t.literal) {
				return nil, false
			}
			pos += len(t.literal)
			continue
		}

		switch t.op {
		case opQuery, opFragment:
			// Query/fragment expressions do not participate in path
			// matching; a request path never carries them.
			continue
		case opPath:
			if pos >= len(path) || path[pos] != '/' {
				return nil, false
			}
			pos++
			v := t.vars[0]
			var value string
			if v.explode {
				value = consumeUntilNextLiteral(tokens, i, path, pos)
			} else {
				value = consumeSegment(path, pos)
			}
			vars[v.name] = value
			pos += len(value)
		default: // opSimple, opReserved
			v := t.vars[0]
			var value string
			if v.explode {
				value = consumeUntilNextLiteral(tokens, i, path, pos)
			} else {
				value = consumeSegment(path, pos)
			}
			if value == "" {
				return nil, false
			}
			vars[v.name] = value
			pos += len(value)
		}
	}

	if pos != len(path) {
		return nil, false
	}
	return vars, true
}

// consumeSegment reads a single path segment (up to the next "/" or end of
// string) starting at pos — the binding for a non-exploded variable.
func consumeSegment(path string, pos int) string {
	rest := path[pos:]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// consumeUntilNextLiteral reads everything up to the start of the next
// literal token after index i (or to the end of the string if there is
// none) — the binding for an exploded remainder variable such as {/var*}.
func consumeUntilNextLiteral(tokens []token, i int, path string, pos int) string {
	rest := path[pos:]
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].isExpr || tokens[j].literal == "" {
			continue
		}
		if idx := strings.Index(rest, tokens[j].literal); idx >= 0 {
			return rest[:idx]
		}
	}
	return rest
}

// buildTokens renders tokens with the given variable bindings.
func buildTokens(tokens []token, variables map[string]string) (string, error) {
	var b strings.Builder
	queryEmitted := false

	for _, t := range tokens {
		if !t.isExpr {
			b.WriteString(t.literal)
			continue
		}

		switch t.op {
		case opQuery:
			var pairs []string
			for _, v := range t.vars {
				val, ok := variables[v.name]
				if !ok || val == "" {
					continue
				}
				pairs = append(pairs, v.name+"="+applyPrefix(val, v.prefixLen))
			}
			if len(pairs) == 0 {
				continue
			}
			if !queryEmitted {
				b.WriteString("?")
				queryEmitted = true
			} else {
				b.WriteString("&")
			}
			b.WriteString(strings.Join(pairs, "&"))
		case opFragment:
			v := t.vars[0]
			val, ok := variables[v.name]
			if !ok || val == "" {
				continue
			}
			b.WriteString("#")
			b.WriteString(applyPrefix(val, v.prefixLen))
		case opPath:
			v := t.vars[0]
			val, ok := variables[v.name]
			if !ok {
				return "", fmt.Errorf("missing required variable %q", v.name)
			}
			b.WriteString("/")
			b.WriteString(applyPrefix(val, v.prefixLen))
		default: // opSimple, opReserved
			v := t.vars[0]
			val, ok := variables[v.name]
			if !ok {
				return "", fmt.Errorf("missing required variable %q", v.name)
			}
			b.WriteString(applyPrefix(val, v.prefixLen))
		}
	}

	return b.String(), nil
}

func applyPrefix(value string, prefixLen int) string {
	if prefixLen <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= prefixLen {
		return value
	}
	return string(runes[:prefixLen])
}
