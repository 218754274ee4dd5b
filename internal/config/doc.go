// Package config loads the relay's YAML configuration: listening ports,
// the viewer admission policy and the ordered list of upstream cameras.
package config
