// Package platform wraps the operating-system collaborators the vault
// depends on: marking a path hidden, launching a file with its default
// application, and querying free disk space.
//
// None of these carry vault invariants. Hiding is best effort and callers
// log its failures rather than aborting.
package platform
