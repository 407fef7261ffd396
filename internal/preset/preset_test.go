package preset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		preset  string
		concept string
		want    Concept
	}{
		{name: "single instance", preset: "interior", concept: "Wall", want: Concept{Prompt: "wall surface"}},
		{name: "multi instance", preset: "Interior", concept: "Window", want: Concept{Prompt: "window", MultiInstance: true}},
		{name: "seller", preset: "seller", concept: "Logo", want: Concept{Prompt: "brand logo", MultiInstance: true}},
		{name: "outside preset", preset: "interior", concept: "sofa", want: Concept{Prompt: "sofa", MultiInstance: true}},
		{name: "no preset", concept: "Wall", want: Concept{Prompt: "Wall", MultiInstance: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.preset, tt.concept))
		})
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("interior"))
	assert.True(t, Known("SELLER"))
	assert.False(t, Known("garden"))
	assert.False(t, Known(""))
}
