package macro

import (
	"fmt"
	"sort"
)

// Templates are starting points for new macros. Template bodies are ordinary
// macro source: they pass through the same validation and execution path as
// client-supplied code, with no shortcuts.
var templates = map[string]string{
	"default": `# New macro.
print("macro " + params.get("doc_name", "unnamed") + " starting")
`,

	"basic": `# Basic document macro: ensures an object exists and recomputes.
name = params.get("object_name", "Feature")
obj = doc.new_object(name = name, type = "Feature")
doc.recompute()
print("created " + obj.name)
`,

	"part": `# Part macro: creates a box-like part from parameters.
length = params.get("length", 10.0)
width = params.get("width", 10.0)
height = params.get("height", 10.0)

part = doc.new_object(name = "Box", type = "Part")
part.set("length", length)
part.set("width", width)
part.set("height", height)
doc.recompute()
print("part volume: " + str(length * width * height))
`,

	"sketch": `# Sketch macro: builds a sketch from geometry primitives.
radius = params.get("radius", 5.0)

s = doc.new_object(name = "Sketch", type = "Sketch")
s.set("outline", sketch.circle(center_x = 0.0, center_y = 0.0, radius = radius))
s.set("axis", sketch.line(x1 = -radius, y1 = 0.0, x2 = radius, y2 = 0.0))
doc.recompute()
print("sketch with radius " + str(radius))
`,
}

// Template returns the named template source.
func Template(name string) (string, error) {
	t, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q (have: %v)", name, TemplateNames())
	}
	return t, nil
}

// TemplateNames returns the available template names, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for n := range templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
