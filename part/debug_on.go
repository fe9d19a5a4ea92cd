//go:build partkit_debug

package part

const debugAsserts = true
