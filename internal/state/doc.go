// Package state holds conversation state: the in-memory turn history the
// gateway reads and appends to, and the optional filesystem-backed transcript
// and artifact stores that outlive the process.
package state
