// Package config loads and validates syncd configuration from YAML.
//
// Load order: read file, expand ${VAR} environment references, unmarshal,
// apply defaults, validate. Invalid thresholds or capacities fail fast at
// startup; nothing in the engine re-validates configuration at runtime.
package config
