// Package server implements the Session Server component.
//
// The Session Server:
//   - Upgrades HTTP requests to WebSocket connections
//   - Sends each new connection its id, the active context, and known contexts
//   - Feeds inbound frames to the Message Router in arrival order,
//     deferring business events through the router's bounded queue
//   - Probes liveness on a fixed interval and evicts silent connections
//   - Installs the built-in protocol routes (heartbeat, rooms, switching,
//     business events, broadcast)
package server
