// Package dag orders triggers so that every trigger comes after the triggers
// it depends on.
//
// A Graph is built once per invocation from the loaded trigger set and is
// immutable afterwards. Construction rejects duplicate names, dependencies on
// unknown names and cycles; a rejected set never yields a partial order.
// Mutually independent triggers keep their input order.
package dag
