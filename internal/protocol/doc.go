// Package protocol owns the wire contract between remote callers and the
// embedded engine.
//
// Ownership boundary:
// - MessagePack value codec (value.Value <-> wire)
// - call envelope decoding
// - reply status and payload encoding
//
// Aggregates are always encoded as wire maps, including values that were
// decoded from wire arrays. Options.ListsAsArrays lifts this for peers that
// do not need compatibility with existing callers.
package protocol
