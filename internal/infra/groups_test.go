package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticGroupResolver(t *testing.T) {
	r := NewStaticGroupResolver(configWithGroups(map[string][]string{
		"farm_a": {"dev1", "dev2"},
	}))

	assert.True(t, r.InGroup("dev1", "farm_a"))
	assert.False(t, r.InGroup("dev3", "farm_a"))
	assert.False(t, r.InGroup("dev1", "farm_b"))
	assert.Equal(t, []string{"dev1", "dev2"}, r.DevicesInGroup("farm_a"))
	assert.Empty(t, r.DevicesInGroup("farm_b"))

	devices := r.DevicesInGroup("farm_a")
	devices[0] = "mutated"
	assert.Equal(t, []string{"dev1", "dev2"}, r.DevicesInGroup("farm_a"))
}
