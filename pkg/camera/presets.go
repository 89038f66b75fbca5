package camera

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLegacy  = "legacy"
	Preset1080p   = "1080p"
	PresetFront   = "front"
)

// Presets returns all available preset constraints.
func Presets() map[string]Constraints {
	return map[string]Constraints{
		PresetDefault: DefaultConstraints(),
		PresetLegacy:  LegacyConstraints(),
		Preset1080p:   HD1080Constraints(),
		PresetFront:   FrontConstraints(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset1080p,
		PresetFront,
	}
}

// GetPreset returns a preset by name, or nil if not found.
func GetPreset(name string) *Constraints {
	presets := Presets()
	if c, ok := presets[name]; ok {
		return &c
	}
	return nil
}

// LegacyConstraints returns 640x480 for slow links and old USB webcams.
func LegacyConstraints() Constraints {
	c := DefaultConstraints()
	c.Width = 640
	c.Height = 480
	return c
}

// HD1080Constraints returns 1080p. Larger uploads, finer texture detail.
func HD1080Constraints() Constraints {
	c := DefaultConstraints()
	c.Width = 1920
	c.Height = 1080
	return c
}

// FrontConstraints returns the default resolution on the user-facing camera.
func FrontConstraints() Constraints {
	c := DefaultConstraints()
	c.Facing = FacingUser
	return c
}
