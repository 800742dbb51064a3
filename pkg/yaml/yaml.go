// Package yaml edits config documents in place: one key is replaced and
// the rest of the file (comments, order, formatting) stays untouched.
package yaml

import (
	"bytes"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrPathNotExist = errors.New("yaml: path not exist")

func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

func Encode(v any, indent int) ([]byte, error) {
	b := bytes.NewBuffer(nil)
	e := yaml.NewEncoder(b)
	e.SetIndent(indent)

	if err := e.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Patch sets value for the key path, ex. Patch(src, pin, "homekit", "pin").
// Nil value removes the key. A missing top level section is appended to
// the end of document, deeper missing sections are an error.
func Patch(src []byte, value any, path ...string) ([]byte, error) {
	if len(path) == 0 {
		return nil, ErrPathNotExist
	}

	parents, key := path[:len(path)-1], path[len(path)-1]

	parent, err := findMapping(src, parents)
	if err != nil {
		return nil, err
	}

	var dst []byte

	switch {
	case parent != nil:
		dst, err = replace(src, parent, key, value)
	case len(parents) <= 1 && value != nil:
		dst, err = appendSection(src, path, value)
	case value == nil:
		return src, nil // nothing to remove
	default:
		return nil, ErrPathNotExist
	}
	if err != nil {
		return nil, err
	}

	// result must stay valid
	if err = yaml.Unmarshal(dst, map[string]any{}); err != nil {
		return nil, err
	}

	return dst, nil
}

// findMapping returns mapping node for the path of keys, nil if some key is missing
func findMapping(src []byte, path []string) (*yaml.Node, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, err
	}

	if len(root.Content) == 0 {
		return nil, nil
	}

	node := root.Content[0]
	for _, name := range path {
		if _, node = findChild(node, name); node == nil {
			return nil, nil
		}
	}

	if node.Kind != yaml.MappingNode {
		return nil, nil
	}

	return node, nil
}

func findChild(node *yaml.Node, name string) (key, value *yaml.Node) {
	if node.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == name {
			return node.Content[i], node.Content[i+1]
		}
	}
	return nil, nil
}

func lastNode(node *yaml.Node) *yaml.Node {
	for node.Content != nil {
		node = node.Content[len(node.Content)-1]
	}
	return node
}

func replace(src []byte, parent *yaml.Node, key string, value any) ([]byte, error) {
	var put []byte

	if value != nil {
		var err error
		if put, err = Encode(map[string]any{key: value}, 2); err != nil {
			return nil, err
		}
	}

	var i0, i1 int

	if nodeKey, nodeValue := findChild(parent, key); nodeKey != nil {
		put = indent(put, nodeKey.Column-1)
		i0 = lineOffset(src, nodeKey.Line)
		i1 = lineOffset(src, lastNode(nodeValue).Line+1)
	} else {
		if value == nil {
			return src, nil
		}
		column := 1
		if parent.Content != nil {
			column = parent.Content[0].Column
		}
		put = indent(put, column-1)
		i0 = lineOffset(src, lastNode(parent).Line+1)
		i1 = i0
	}

	// no new line on the end of file
	if i0 < 0 {
		src = append(src, '\n')
		i0 = len(src)
	}
	if i1 < 0 {
		i1 = len(src)
	}

	dst := make([]byte, 0, len(src)+len(put))
	dst = append(dst, src[:i0]...)
	dst = append(dst, put...)
	return append(dst, src[i1:]...), nil
}

func appendSection(src []byte, path []string, value any) ([]byte, error) {
	var v any = value
	for i := len(path) - 1; i >= 0; i-- {
		v = map[string]any{path[i]: v}
	}

	put, err := Encode(v, 2)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(src)+len(put)+1)
	dst = append(dst, src...)
	if l := len(src); l > 0 && src[l-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, put...), nil
}

func indent(src []byte, n int) []byte {
	if n <= 0 || len(src) == 0 {
		return src
	}

	pre := strings.Repeat(" ", n)

	var dst []byte
	for _, line := range bytes.SplitAfter(src, []byte{'\n'}) {
		if len(line) > 0 {
			dst = append(dst, pre...)
			dst = append(dst, line...)
		}
	}
	return dst
}

// lineOffset returns offset of the line start (1-based), -1 if no such line
func lineOffset(b []byte, line int) int {
	offset := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(b[offset:], '\n')
		if i < 0 {
			return -1
		}
		offset += i + 1
	}
	return offset
}
