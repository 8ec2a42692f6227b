// Package codec implements the wire format of a queued pipeline executable.
//
// An executable is encoded into a JSON document wrapped into a goridge frame with
// the JSON codec flag and a CRC checked header:
//
//	{
//	  "id": "...",
//	  "jobs": [{"kind": "named", "name": "welcome"}],
//	  "passable": [{"type": "user", "ptr": true, "value": {...}}],
//	  "queued": true,
//	  "routing": {"queue": "mail", "connection": "memory", "delay_ms": 0, "max_tries": 3}
//	}
//
// Passable values keep their type through the type registry: every non-nil value
// (or the element of a pointer) should be registered under a name. Inline jobs hold
// a function value and can't be encoded, use a named function instead.
package codec
