// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride lets tests point ConfigDir at a temp directory.
var configDirOverride string

// SetConfigDirOverride overrides the config directory and returns a restore
// function. Intended for tests.
func SetConfigDirOverride(dir string) func() {
	prev := configDirOverride
	configDirOverride = dir
	return func() { configDirOverride = prev }
}
