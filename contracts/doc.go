// Package contracts provides the wire contracts shared by fleck clients and consumers.
//
// This package defines:
//   - RequestEnvelope: the {headers, params} payload published by a client
//   - ResponseEnvelope: the {status, headers, body, errors, deprecated} reply
//   - Status codes and reason phrases used as a transport independent status vocabulary
//   - Issue: structured body entries describing rejected actions and parameters
//
// Field names on the wire are fixed; unknown fields are ignored when decoding.
package contracts
