package profile

import (
	"fmt"
	"regexp"

	"github.com/mataid/matchat/internal/config"
)

// DefaultName is used when neither flag nor config name a profile.
const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to profile naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active profile name using precedence:
// flag override, then config.toml default_profile, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.LoadClient(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
