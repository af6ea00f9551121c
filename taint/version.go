package taint

// Version information for the ddetector taint engine.
const (
	// Version is the current version of the engine.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info describes the engine build.
type Info struct {
	// Version is the engine version string.
	Version string

	// ConfigVersion is the configuration schema version the engine reads.
	ConfigVersion string

	// Arch is the default guest architecture.
	Arch string
}

// GetInfo returns information about the engine.
//
// Example:
//
//	info := taint.GetInfo()
//	fmt.Printf("ddetector %s (config %s)\n", info.Version, info.ConfigVersion)
func GetInfo() Info {
	return Info{
		Version:       Version,
		ConfigVersion: DefaultConfig().Version,
		Arch:          DefaultConfig().Arch,
	}
}
