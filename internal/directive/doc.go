// Package directive decodes check directives from compiler output.
//
// A compiler running in test mode prints check directives on its standard
// output, interleaved with whatever else it prints. Each directive occupies
// one whole line:
//
//	__t_<name>=<value>
//
// The "__t_" prefix must start at column 0. Lines without the prefix are
// ordinary output and are ignored, even when they contain '='. A prefixed
// line without '=' breaks the protocol and is reported as a *MalformedError.
//
// # Recognized names
//
//   - expected_status: signed decimal exit status the produced executable
//     must return.
//
// Every other name decodes successfully but classifies as KindUnknown;
// the verdict package fails such tests rather than ignoring them.
//
// # Versioning
//
// ProtocolVersion identifies this grammar. It changes whenever the prefix,
// the line shape, or the meaning of a recognized name changes.
package directive
