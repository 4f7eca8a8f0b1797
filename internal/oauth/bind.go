package oauth

import "github.com/openclaw/clawd/internal/config"

// ProfileBinder returns a ConfigBinder that points the config's model
// auth at the provider's freshly stored profile. Profiles are keyed by
// provider in the store, so the binding records the provider itself.
func ProfileBinder(store *config.Store) ConfigBinder {
	return func(provider string) error {
		_, _, err := store.Patch(map[string]interface{}{
			"models": map[string]interface{}{
				"auth_profiles": map[string]interface{}{provider: provider},
			},
		}, "")
		return err
	}
}
