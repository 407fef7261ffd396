package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the edit applied to the regions of a concept.
type Action int

const (
	ActionUnknown Action = iota // missing or unrecognised, the concept is skipped
	ActionRecolor
	ActionTone    // reserved, applies no change yet
	ActionTexture // reserved, applies no change yet
)

var actionNames = map[Action]string{
	ActionRecolor: "recolor",
	ActionTone:    "tone",
	ActionTexture: "texture",
}

// ParseAction maps an action name to its Action. Unknown names map to ActionUnknown.
func ParseAction(s string) Action {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range actionNames {
		if name == s {
			return a
		}
	}

	return ActionUnknown
}

// String returns the wire name of the action, or an empty string for ActionUnknown.
func (a Action) String() string {
	return actionNames[a]
}

// MarshalJSON encodes the action as its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action name. Non-string values decode to ActionUnknown.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*a = ActionUnknown
		return nil
	}

	*a = ParseAction(s)

	return nil
}

// Rule describes what to do with the regions of one concept.
type Rule struct {
	Action Action `json:"action"`
	Value  string `json:"value"` // "#RRGGBB" or a material name
}

// ConceptRule binds a concept name to its rule.
type ConceptRule struct {
	Name string
	Rule Rule
}

// Concepts is an ordered set of concept rules.
//
// It is encoded as a JSON object and keeps the key order of the decoded
// document, so overlapping regions are resolved in the order the caller wrote them.
type Concepts []ConceptRule

// Names returns concept names in order.
func (c Concepts) Names() []string {
	names := make([]string, 0, len(c))
	for _, cr := range c {
		names = append(names, cr.Name)
	}

	return names
}

// Get returns the rule for the named concept.
func (c Concepts) Get(name string) (Rule, bool) {
	for _, cr := range c {
		if cr.Name == name {
			return cr.Rule, true
		}
	}

	return Rule{}, false
}

// set replaces the rule of an existing concept in place or appends a new one.
func (c Concepts) set(name string, r Rule) Concepts {
	for i := range c {
		if c[i].Name == name {
			c[i].Rule = r
			return c
		}
	}

	return append(c, ConceptRule{Name: name, Rule: r})
}

// UnmarshalJSON decodes a JSON object of concept rules preserving key order.
func (c *Concepts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("concepts: %w", err)
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("concepts: expected object, got %v", tok)
	}

	out := Concepts{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("concepts: %w", err)
		}

		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("concepts: unexpected key %v", tok)
		}

		var r Rule
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("concepts: rule %q: %w", name, err)
		}

		out = out.set(name, r)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("concepts: %w", err)
	}

	*c = out

	return nil
}

// MarshalJSON encodes the concepts as a JSON object in order.
func (c Concepts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, cr := range c {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(cr.Name)
		if err != nil {
			return nil, err
		}
		rule, err := json.Marshal(cr.Rule)
		if err != nil {
			return nil, err
		}

		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(rule)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
