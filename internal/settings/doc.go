// Package settings is the hub-side persistence for unit records and
// per-unit settings: discovered endpoints, setpoints, fan profiles and
// filter intervals survive restarts here while the physical unit stays
// the source of truth for live state.
package settings
