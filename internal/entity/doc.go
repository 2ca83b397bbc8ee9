// Package entity turns the entity sections of a configuration document into
// an immutable descriptor table and computes the differences between two
// tables.
//
// A table is built from one document:
//
//	entity "heartbeat" "A" {
//	  depends_on = ["B"]
//	  interval   = "5s"
//	}
//
// produces a descriptor with ID "A", type "heartbeat" and one hard
// dependency. Descriptors that cannot be started (missing dependencies,
// dependency cycles, malformed headers) stay in the table but are reported
// by Table.Invalid and left out of Table.Order.
package entity
