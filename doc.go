// Package shelfdb is a schema and relation layer over document engines.
//
// # Stores
//
// A [Store] is a named collection of documents kept in one
// [engine.Engine]. Stores come from a [Registry], which opens each
// store's engine once:
//
//	reg := shelfdb.NewRegistry(memory.Opener())
//	defer reg.Close()
//
//	posts, err := reg.GetOrCreate("posts", shelfdb.Config{
//		Properties: map[string]shelfdb.Rule{"title": {Type: shelfdb.TypeString, Required: true}},
//		HasMany:    map[string]shelfdb.Target{"comments": shelfdb.ByName("comments")},
//		HasOne:     map[string]shelfdb.Target{"author": shelfdb.ByName("users")},
//	})
//
// Documents are [models.Document] values with the reserved fields "id"
// and "rev". A document without a revision is created; a document with a
// revision updates the stored one, and fails with [ErrUpdateConflict] when
// the revision is stale.
//
// # Relations
//
// Fields declared as relations are written to their target store before
// the parent, and the parent only keeps their ids under "<field>_ids" or
// "<field>_id". Reads put the related items back.
//
// # Change detection
//
// A document equal to its stored version, revision and "$info" aside, is
// not written again. This keeps relation fields from creating a new
// revision of every related item on each save.
//
// # Errors
//
// Every operation fails with an [*Error]; use errors.Is with the Err*
// kinds to tell them apart.
package shelfdb
