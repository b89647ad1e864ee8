package instance

import (
	"bufio"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"unicode"
)

var ErrMalformedGraph = errors.New("malformed graph")

// Graph is the friendship graph: students in file order and undirected
// edges between their labels.
type Graph struct {
	Nodes []string
	Edges [][2]string
}

type gmlValue struct {
	text   string
	isList bool
	list   []gmlPair
}

type gmlPair struct {
	key   string
	value gmlValue
}

func (v gmlValue) get(key string) (gmlValue, bool) {
	for _, p := range v.list {
		if p.key == key {
			return p.value, true
		}
	}
	return gmlValue{}, false
}

// ReadGraph parses the subset of GML written by networkx: a top level
// graph list holding node and edge lists. Nodes are named by their label,
// falling back to their id; edges refer to node ids.
func ReadGraph(r io.Reader) (*Graph, error) {
	lx := &gmlLexer{r: bufio.NewReader(r), line: 1}
	root, err := lx.parseList(false)
	if err != nil {
		return nil, err
	}
	g, ok := root.get("graph")
	if !ok || !g.isList {
		return nil, fmt.Errorf("%w: no graph list", ErrMalformedGraph)
	}

	graph := &Graph{}
	byID := map[string]string{}
	for _, p := range g.list {
		if p.key != "node" || !p.value.isList {
			continue
		}
		id, ok := p.value.get("id")
		if !ok || id.isList {
			return nil, fmt.Errorf("%w: node without id", ErrMalformedGraph)
		}
		name := id.text
		if label, ok := p.value.get("label"); ok && !label.isList {
			name = label.text
		}
		if _, dup := byID[id.text]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %s", ErrMalformedGraph, id.text)
		}
		byID[id.text] = name
		graph.Nodes = append(graph.Nodes, name)
	}
	for _, p := range g.list {
		if p.key != "edge" || !p.value.isList {
			continue
		}
		src, ok1 := p.value.get("source")
		dst, ok2 := p.value.get("target")
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: edge without source or target", ErrMalformedGraph)
		}
		a, ok1 := byID[src.text]
		b, ok2 := byID[dst.text]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: edge %s-%s names an unknown node", ErrMalformedGraph, src.text, dst.text)
		}
		graph.Edges = append(graph.Edges, [2]string{a, b})
	}
	return graph, nil
}

type gmlLexer struct {
	r    *bufio.Reader
	line int
}

func (lx *gmlLexer) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedGraph, lx.line, fmt.Sprintf(format, args...))
}

// next returns the next token. Strings come back with quoted set.
func (lx *gmlLexer) next() (tok string, quoted bool, err error) {
	for {
		c, _, err := lx.r.ReadRune()
		if err != nil {
			return "", false, err
		}
		switch {
		case c == '\n':
			lx.line++
		case unicode.IsSpace(c):
		case c == '#':
			if _, err := lx.r.ReadString('\n'); err != nil {
				return "", false, err
			}
			lx.line++
		case c == '[' || c == ']':
			return string(c), false, nil
		case c == '"':
			var sb strings.Builder
			for {
				c, _, err := lx.r.ReadRune()
				if err != nil {
					return "", false, lx.errorf("unterminated string")
				}
				if c == '"' {
					return html.UnescapeString(sb.String()), true, nil
				}
				if c == '\n' {
					lx.line++
				}
				sb.WriteRune(c)
			}
		default:
			var sb strings.Builder
			sb.WriteRune(c)
			for {
				c, _, err := lx.r.ReadRune()
				if err == io.EOF {
					return sb.String(), false, nil
				}
				if err != nil {
					return "", false, err
				}
				if unicode.IsSpace(c) || c == '[' || c == ']' || c == '"' {
					lx.r.UnreadRune()
					return sb.String(), false, nil
				}
				sb.WriteRune(c)
			}
		}
	}
}

func (lx *gmlLexer) parseList(nested bool) (gmlValue, error) {
	v := gmlValue{isList: true}
	for {
		key, quoted, err := lx.next()
		if err == io.EOF {
			if nested {
				return v, lx.errorf("unexpected end of input")
			}
			return v, nil
		}
		if err != nil {
			return v, err
		}
		if key == "]" && !quoted {
			if !nested {
				return v, lx.errorf("unbalanced ]")
			}
			return v, nil
		}
		if quoted || key == "[" || !isKey(key) {
			return v, lx.errorf("expected key, got %q", key)
		}

		tok, quoted, err := lx.next()
		if err == io.EOF {
			return v, lx.errorf("key %q has no value", key)
		}
		if err != nil {
			return v, err
		}
		var val gmlValue
		switch {
		case tok == "[" && !quoted:
			if val, err = lx.parseList(true); err != nil {
				return v, err
			}
		case tok == "]" && !quoted:
			return v, lx.errorf("key %q has no value", key)
		default:
			val = gmlValue{text: tok}
		}
		v.list = append(v.list, gmlPair{key: key, value: val})
	}
}

func isKey(s string) bool {
	for i, c := range s {
		if c == '_' || unicode.IsLetter(c) || (i > 0 && unicode.IsDigit(c)) {
			continue
		}
		return false
	}
	return s != ""
}
