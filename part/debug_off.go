//go:build !partkit_debug

package part

// debugAsserts gates expensive cross-checks (e.g. verifying the reciprocal
// slot-number computation against true division). Compiled out by default;
// enable with -tags partkit_debug.
const debugAsserts = false
