/*
Package schema defines record types: named, ordered sets of typed fields
with normalization and constraint rules.

# Record Type Definition

A record type in YAML:

	type: user
	fields:
	  - { name: email,     kind: email,   required: true, unique: true }
	  - { name: name,      kind: string,  required: true, normalize: [trim], constraints: [{ type: max_length, value: 200 }] }
	  - { name: tc,        kind: boolean, required: true }
	  - { name: password,  kind: secret }
	  - { name: is_active, kind: boolean, default: true }
	  - { name: is_admin,  kind: boolean, default: false }

# Kinds

  - string:    Text value
  - integer:   64-bit integer
  - decimal:   Arbitrary-precision decimal
  - email:     Email address (syntax checked, folded to lowercase)
  - boolean:   Boolean value
  - reference: Identity of a record of another type (requires to)
  - secret:    Hashed before storage, never serialized

# Normalizers

Each kind applies its own canonical form first (email folds the whole
address); declared normalizers then run left to right:

  - trim:        Remove surrounding whitespace
  - lower:       Lowercase
  - email:       Trim and lowercase
  - quantize:N:  Round decimals to N places

# Constraints

Constraints run on the normalized value, in declaration order:

  - min, max:               Numeric bounds (inclusive)
  - min_length, max_length: Length bounds in characters
  - pattern:                Regular expression match
  - not_empty:              Not empty after trimming whitespace
  - one_of:                 Value must be in a list

# Design Principles

Everything in this package is a pure value. RecordType, FieldSpec,
Value, Record and Result are never mutated after construction, so they
may be shared across goroutines without locking.
*/
package schema
