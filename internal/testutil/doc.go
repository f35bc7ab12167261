// Package testutil holds deterministic stand-ins for the wall clock and the
// id generator, so store and sync tests produce repeatable output.
package testutil
