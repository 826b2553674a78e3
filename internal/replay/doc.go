// Package replay applies staged changes from a clone to the origin store.
//
// An Adapter turns one staged change into an insert, update or delete of the
// origin. Remote ids do not survive the trip: a row inserted on the clone
// gets a fresh id in the origin, and the IDMap remembers the pair so later
// changes referencing the row are remapped. Columns are recognised as
// references from the schema's foreign keys and polymorphic associations.
//
// A Synchronizer replays a list of staged changes oldest first, one
// transaction per row, so a failure never undoes earlier rows. A row that
// fails is handed to a Resolver, which edits and retries it, skips it, skips
// it together with every row depending on it, or stops the session.
package replay
