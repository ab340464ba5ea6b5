// Package bizcontext implements the Context Switch Coordinator.
//
// The coordinator:
//   - Holds the registry of named business context handlers
//   - Owns the single globally-active context label
//   - Performs the ordered deactivate → state handoff → activate transition
//   - Serializes concurrent switch requests behind one mutex
//   - Broadcasts context_switched to every live connection after a handoff
package bizcontext
