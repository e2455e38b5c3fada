// Package intake receives outcome reports from workers over a Redis list.
//
// Workers RPUSH JSON Report envelopes onto the report key. The Consumer pops
// them with BLPOP and hands each one to the workflow engine. Reports that can
// never succeed (malformed JSON, unknown recordings, rejected transitions)
// are moved to the dead-letter list with the error attached; transient
// failures are pushed back with an incremented attempt counter until the
// attempt budget is spent.
package intake
