// Package preset maps domain concept names to the text prompts understood by
// the segmentation engine.
package preset

import "strings"

// Concept describes how a concept of a preset is segmented.
type Concept struct {
	Prompt        string
	MultiInstance bool // false: instances are merged into a single mask
}

var presets = map[string]map[string]Concept{
	"interior": {
		"Wall":          {Prompt: "wall surface"},
		"Floor":         {Prompt: "floor surface"},
		"Ceiling":       {Prompt: "ceiling"},
		"Window":        {Prompt: "window", MultiInstance: true},
		"Door":          {Prompt: "door", MultiInstance: true},
		"Frame_Molding": {Prompt: "frame and molding trim"},
		"Tile":          {Prompt: "tile", MultiInstance: true},
		"Grout":         {Prompt: "grout lines between tiles"},
		"Cabinet":       {Prompt: "cabinet door", MultiInstance: true},
		"Countertop":    {Prompt: "countertop surface"},
		"Light":         {Prompt: "light fixture", MultiInstance: true},
		"Handle":        {Prompt: "door handle or knob", MultiInstance: true},
	},
	"seller": {
		"Body":        {Prompt: "product body"},
		"Label_Text":  {Prompt: "product label text"},
		"Logo":        {Prompt: "brand logo", MultiInstance: true},
		"Gloss":       {Prompt: "glossy highlight reflection"},
		"Parts":       {Prompt: "product parts and components", MultiInstance: true},
		"Accessories": {Prompt: "product accessories cable box manual", MultiInstance: true},
	},
}

// Lookup returns the concept definition of a preset. Concepts outside any
// preset are segmented by their own name and keep all instances.
func Lookup(preset, concept string) Concept {
	if c, ok := presets[strings.ToLower(preset)][concept]; ok {
		return c
	}

	return Concept{Prompt: concept, MultiInstance: true}
}

// Known reports whether the preset exists.
func Known(preset string) bool {
	_, ok := presets[strings.ToLower(preset)]
	return ok
}
