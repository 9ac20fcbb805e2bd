// Package codec encodes declaration records into the compact byte form stored
// in the container heap, and decodes them back.
//
// A record is a kind byte, the uvarint string index of its name, then the
// kind's fields in a fixed order. Strings are written as indices into the
// build's string table; lists carry a uvarint count; optional values carry a
// presence byte. Type references are a discriminator byte followed by a
// primitive tag or a string index.
//
// Field order per kind:
//
//	primitive      tag
//	class, object  members, generic params, annotations, bases
//	function       params, return, generic params, annotations
//	enum           (name, value)*
//	union, inter.  typeref*
//	mapped         key name, constraint?, value
//	conditional    check, extends, true, false
//	generic alias  base, typeref*
//
// Enum values are 0xFE followed by a little-endian int32, or 0xFD followed by
// a uvarint length and UTF-8 text.
package codec
