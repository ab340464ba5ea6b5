// Package protocol implements the Protocol Codec component.
//
// The Protocol Codec:
//   - Defines the wire message shape shared by server and clients
//   - Maintains a data-driven registry of message types and schemas
//   - Encodes/decodes messages as one JSON document per frame
//   - Validates type membership, version compatibility, and payload schemas
//   - Defines the numeric error-code taxonomy for error payloads
package protocol
