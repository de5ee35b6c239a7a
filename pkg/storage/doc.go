// Package storage manages the archive directory.
//
// The archive is flat: one JSON file per post, named
// {datestamp}_{postid}_{slug}.json, and sibling media files named
// {datestamp}_{postid}_{mediakey}.{ext}. Post files hold the per-post API
// response byte for byte.
//
// Post files are written atomically through a temporary file and rename.
// Media files are created exclusively so an existing file is never
// overwritten; a file left half-written by a failed stream is removed by
// the caller that created it.
//
// Usage:
//
//	store, err := storage.NewStore("./archive", time.Local, 70, log)
//	if err != nil {
//	    return err
//	}
//
//	ids, err := store.ArchivedIDs()
//	...
//	name, err := store.Append(record)
package storage
