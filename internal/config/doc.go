// Package config defines the pipeline definition model consumed by the
// orchestrator.
//
// A [Pipeline] is loaded once from YAML at run start, defaulted, and
// validated (including acyclicity of the stage graph) before any stage is
// scheduled. It is never mutated while a run is in progress.
// Operational timeouts that are not part of a pipeline definition come
// from the environment via [LoadTimeouts].
package config
