package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/offblock/blobpool/pool"
	"github.com/offblock/blobpool/tagdb"
)

type config struct {
	Name      string // pool name, used in bucket names
	Blobfile  string // channel location, e.g. "file:pool.blob"
	MapSize   int64  // capacity in bytes for an mmap channel
	BlockSize int64
	Tags      string // tag database location, e.g. "ql:tags.db"
	SentryDSN string
}

var (
	configFile = flag.String("config", "", "path of a TOML configuration file")
	blobPath   = flag.String("blob", "file:pool.blob", "location of the blob file")
	tagsPath   = flag.String("tags", "memory", "location of the tag database")
	blockSize  = flag.Int64("blocksize", 4096, "slot size in bytes")
	poolName   = flag.String("name", "bpool", "name of the pool")
	usage      = `
bpool [options] <command> <command arguments>

Possible commands:
    list

    info <slot>

    get <slot>

    put <file>

    free <slot>
`
)

func main() {
	flag.Parse()

	c := config{
		Name:      *poolName,
		Blobfile:  *blobPath,
		BlockSize: *blockSize,
		Tags:      *tagsPath,
	}
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &c); err != nil {
			log.Fatalln(err)
		}
	}
	if c.SentryDSN != "" {
		raven.SetDSN(c.SentryDSN)
	}

	ch := parsechannel(c.Blobfile, c.MapSize)
	db := parsedb(c.Tags)
	if ch == nil || db == nil {
		os.Exit(1)
	}
	p := pool.New(c.Name, c.BlockSize, ch, db)
	if err := p.Load(); err != nil {
		log.Fatalln(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	switch args[0] {
	case "list":
		dolist(p, db)
	case "info":
		doinfo(db, args[1])
	case "get":
		doget(p, db, args[1])
	case "put":
		doput(p, db, args[1])
	case "free":
		dofree(p, db, args[1])
	default:
		fmt.Println(usage)
	}
}

func parseslot(s string) int64 {
	slot, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("Bad slot number %s", s)
	}
	return slot
}

func dolist(p *pool.Pool, db tagdb.DB) {
	stats := p.Stats()
	fmt.Printf("Pool %s: %d persisted, %d temporary, %d free, next slot %d\n",
		p.Name(), stats.Persisted, stats.Temporary, stats.Free, stats.Next)
	tags, err := db.ListTags()
	if err != nil {
		log.Fatalln(err)
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Slot\tSize\tSaved\n")
	for _, tag := range tags {
		fmt.Fprintf(w, "%d\t%d\t%v\n", tag.Index, tag.Size, tag.Saved)
	}
	w.Flush()
}

func doinfo(db tagdb.DB, slot string) {
	tag, err := db.LookupTag(parseslot(slot))
	if err != nil {
		log.Fatalln(err)
	}
	if tag == nil {
		fmt.Printf("No tag for slot %s\n", slot)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "Slot:\t%d\n", tag.Index)
	fmt.Fprintf(w, "BlockSize:\t%d\n", tag.BlockSize)
	fmt.Fprintf(w, "Size:\t%d\n", tag.Size)
	fmt.Fprintf(w, "Persisted:\t%v\n", tag.Persisted)
	fmt.Fprintf(w, "Saved:\t%v\n", tag.Saved)
	w.Flush()
}

// lookup a bucket through an activation cache so deactivated slots are
// rebuilt from their tags.
func lookup(p *pool.Pool, db tagdb.DB, slot string) *pool.Bucket {
	cache := pool.NewCache(p, db, 100)
	b, err := cache.Get(parseslot(slot))
	if err != nil {
		log.Fatalln(err)
	}
	if b == nil {
		log.Fatalf("No bucket on slot %s", slot)
	}
	return b
}

func doget(p *pool.Pool, db tagdb.DB, slot string) {
	b := lookup(p, db, slot)
	rc, err := b.Open()
	if err != nil {
		log.Fatalln(err)
	}
	io.Copy(os.Stdout, rc)
	rc.Close()
}

func doput(p *pool.Pool, db tagdb.DB, fname string) {
	in, err := os.Open(fname)
	if err != nil {
		log.Fatalln(err)
	}
	defer in.Close()
	b, err := p.Acquire()
	if err != nil {
		log.Fatalln(err)
	}
	w, err := b.Create()
	if err != nil {
		log.Fatalln(err)
	}
	_, err = io.Copy(w, in)
	if err != nil {
		log.Fatalln(err)
	}
	w.Close()
	if err := b.StoreTo(db); err != nil {
		log.Fatalln(err)
	}
	fmt.Printf("%s (%d bytes)\n", b.Name(), b.Size())
}

func dofree(p *pool.Pool, db tagdb.DB, slot string) {
	b := lookup(p, db, slot)
	b.Free()
	fmt.Printf("Freed %s\n", b.Name())
}
