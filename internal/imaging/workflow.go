package imaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FieldMap lists, per workflow input, every dot path the value is written to.
type FieldMap struct {
	PositivePrompt []string
	NegativePrompt []string
	Width          []string
	Height         []string
	Seed           []string
	Steps          []string
	OutputNode     string
}

// Request is one image generation job.
type Request struct {
	PositivePrompt string
	NegativePrompt string
	Orientation    string
	Seed           int64
	Steps          int
}

// LoadTemplate reads a ComfyUI API-format workflow. Numbers are kept as json.Number
// so that fields we never touch are sent back exactly as written.
func LoadTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow template: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tmpl map[string]any
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("parse workflow template %s: %w", path, err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("workflow template %s is empty", path)
	}
	return tmpl, nil
}

// SetPath writes value at a dot-separated path such as "6.inputs.text".
// It reports false, leaving the tree unchanged, when an intermediate node is missing or not an object.
func SetPath(tree map[string]any, path string, value any) bool {
	keys := strings.Split(path, ".")
	node := tree
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			return false
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
	return true
}

// SetPaths writes the same value to every path and returns how many were set.
func SetPaths(tree map[string]any, paths []string, value any) int {
	n := 0
	for _, p := range paths {
		if SetPath(tree, p, value) {
			n++
		}
	}
	return n
}

// Size returns the output dimensions for an orientation.
// "portrait" swaps the defaults; anything else, including empty, keeps them.
func Size(orientation string, width, height int) (int, int) {
	if strings.EqualFold(strings.TrimSpace(orientation), "portrait") {
		return height, width
	}
	return width, height
}

// Apply injects req into the template in place.
func (f FieldMap) Apply(tmpl map[string]any, req Request, width, height int) {
	w, h := Size(req.Orientation, width, height)
	SetPaths(tmpl, f.PositivePrompt, req.PositivePrompt)
	SetPaths(tmpl, f.NegativePrompt, req.NegativePrompt)
	SetPaths(tmpl, f.Width, w)
	SetPaths(tmpl, f.Height, h)
	SetPaths(tmpl, f.Seed, req.Seed)
	SetPaths(tmpl, f.Steps, req.Steps)
}
