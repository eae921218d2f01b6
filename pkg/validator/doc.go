// Package validator checks deployment specs before anything touches
// the backend. Validation is a pure function: it never mutates the
// spec, never calls the network, and collects every finding instead of
// stopping at the first.
//
// # Checks
//
// Findings are gathered in priority order:
//
//  1. top-level structure: workspace id, environment, component identity
//  2. every dependency resolves to an enabled component in the spec
//  3. no dependency cycle (the discovered path is spelled out)
//  4. required component types present: database and cache are errors
//     when missing, object-store and vector-store only warnings
//  5. resource block complete, quantities well-formed
//  6. data-residency and network-isolation declarations consistent,
//     each with an always-on reminder warning while the mode is active
//  7. per-type config rules: typed keys (dimensions, eviction_policy,
//     model, ...) are checked here so malformed configuration fails at
//     the validation boundary, not mid-deploy
//
// Errors block deployment; warnings travel with the result for the
// operator to read. The deep compliance scan of config values and
// image registries belongs to the driver, which knows the backend;
// the validator only judges what the spec declares.
//
// # Integration Points
//
//   - pkg/deploy: gates both deployment paths on Result.Err()
//   - pkg/graph: cycle detection over the declared dependencies
//   - pkg/errdefs: Result.Err yields a validation-kind error
package validator
