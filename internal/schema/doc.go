// Package schema compiles replicated table declarations from CUE and validates
// change records against them.
//
// A schema names every replicated table and its columns:
//
//	table: todos: {
//		columns: {
//			id:    "text"
//			label: "text"
//			done:  "boolean"
//		}
//	}
//
// The merge engine rejects a whole batch when any record names an unknown
// table or column, or carries a value whose kind does not match the column.
package schema
