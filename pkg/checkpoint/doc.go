// Package checkpoint keeps a journal of the most recent archive run.
//
// The journal records the discovery mode, the run id, counters and the ids
// of posts that could not be fetched. It is rewritten atomically after
// every post so an interrupted run still leaves an accurate record behind.
// The default location is the per-user data directory
// ($XDG_DATA_HOME/subarchive/journal on Linux).
package checkpoint
