// Package p4bridge holds the data model shared by the P4Runtime to
// OpenFlow bridge: table schemas, table entries, multicast groups,
// write updates, evaluator records and the typed errors returned by
// write validation.
package p4bridge
