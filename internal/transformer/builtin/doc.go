// Package builtin contains the transformation vocabulary applied to silver
// datasets: drop_columns, uppercase, string_replace, bucket, dedupe_by_key
// and evict_rescued.
//
// Every transformer is a pure function of its input slice. Records may be
// modified in place, so callers that need the input afterwards pass clones
// (transformer.Chain.ApplyBatch does). Each type also maps the schema it
// changes through MapSchema.
package builtin
