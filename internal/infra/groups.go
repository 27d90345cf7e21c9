package infra

import (
	"github.com/eliteGoblin/dupguard/internal/domain"
)

// StaticGroupResolver resolves device groups from the policy file.
// It reads the current config snapshot on every call, so reloads apply immediately.
type StaticGroupResolver struct {
	config domain.ConfigProvider
}

// NewStaticGroupResolver creates a resolver over the config snapshot.
func NewStaticGroupResolver(config domain.ConfigProvider) *StaticGroupResolver {
	return &StaticGroupResolver{config: config}
}

// DevicesInGroup returns the devices belonging to a group.
func (r *StaticGroupResolver) DevicesInGroup(group string) []string {
	devices := r.config.Current().DeviceGroups[group]
	return append([]string(nil), devices...)
}

// InGroup reports whether a device belongs to a group.
func (r *StaticGroupResolver) InGroup(deviceID, group string) bool {
	for _, d := range r.config.Current().DeviceGroups[group] {
		if d == deviceID {
			return true
		}
	}
	return false
}

// Ensure StaticGroupResolver implements domain.DeviceGroupResolver.
var _ domain.DeviceGroupResolver = (*StaticGroupResolver)(nil)
