// Package dag is a small directed acyclic graph used to order entities by
// their declared dependencies. Nodes are string IDs; an edge from A to B means
// B depends on A. Insertion order is remembered so that every traversal is
// deterministic.
package dag
