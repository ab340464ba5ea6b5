// Package connection implements the Connection Registry and Room Directory.
//
// The Connection Registry:
//   - Owns every live connection record (id, transport, liveness, context label)
//   - Assigns opaque connection ids at accept time
//   - Sends to single connections and fans out best-effort broadcasts
//   - Cascades room cleanup on removal
//
// The Room Directory:
//   - Maps room names to member connection sets
//   - Keeps room membership bidirectionally consistent with the registry
//   - Creates rooms on first join and deletes them when they empty
//
// Both types share one mutex, so every registry and room mutation is a
// single non-overlapping critical section.
package connection
