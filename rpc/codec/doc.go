// Package codec holds the message types and the request/response/event
// codecs of the operations the client and the in-memory member speak.
//
// Every codec builds a protocol.Message: fixed size fields go into the
// initial frame after the header, variable size parameters follow as frames.
// Decoders read them back with the protocol.Iterator. Events use the
// correlation id of the listener registration they belong to.
package codec
