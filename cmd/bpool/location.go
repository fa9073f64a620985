package main

import (
	"log"
	"strings"

	"github.com/offblock/blobpool/blobfile"
	"github.com/offblock/blobpool/tagdb"
)

// splitlocation separates a location like "ql:tags.db" into its scheme and
// path. A location with no colon is all scheme ("memory").
func splitlocation(location string) (scheme, path string) {
	v := strings.SplitN(location, ":", 2)
	scheme = v[0]
	if len(v) > 1 {
		path = v[1]
	}
	return
}

// parsechannel creates the backing channel for "location". In case of an
// error, nil is returned. It understands the schemes "memory",
// "file:path" and "mmap:path"; an mmap channel is sized to mapsize bytes.
func parsechannel(location string, mapsize int64) blobfile.Channel {
	scheme, path := splitlocation(location)
	switch scheme {
	case "", "memory":
		return blobfile.NewMemory()
	case "file":
		ch, err := blobfile.Open(path)
		if err != nil {
			log.Println("Error opening blob file", path, err)
			return nil
		}
		return ch
	case "mmap":
		ch, err := blobfile.OpenMmap(path, mapsize)
		if err != nil {
			log.Println("Error mapping blob file", path, err)
			return nil
		}
		return ch
	}
	log.Println("Problem parsing location", location)
	return nil
}

// parsedb creates the tag database for "location". In case of an error,
// nil is returned. It understands "memory", "ql:path" and "mysql:dial".
func parsedb(location string) tagdb.DB {
	scheme, path := splitlocation(location)
	switch scheme {
	case "", "memory":
		return tagdb.NewMemory()
	case "ql":
		db, err := tagdb.NewQl(path)
		if err != nil {
			log.Println("Error opening tag database", path, err)
			return nil
		}
		return db
	case "mysql":
		db, err := tagdb.NewMysql(path)
		if err != nil {
			log.Println("Error opening tag database", path, err)
			return nil
		}
		return db
	}
	log.Println("Problem parsing location", location)
	return nil
}
