// Package schema describes the tables shared by an origin store and its
// clones: columns, foreign keys, polymorphic type-tag associations and the
// dependency order used when copying.
//
// Schemas are written in CUE. The built-in collection schema is embedded
// (see default.cue); LoadCUE reads a custom one. Every user table carries
// the id, _created and _last_updated columns, and every store carries the
// meta, history and to_sync bookkeeping tables.
package schema
