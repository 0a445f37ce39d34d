package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/c64bridge/vicebridge/vice"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	storageDir := flag.String("storage", "snapshots", "Directory holding the snapshot store")
	label := flag.String("label", "", "Only list snapshots with this label")
	from := flag.String("a", "", "Key of the first snapshot to diff")
	to := flag.String("b", "", "Key of the second snapshot to diff")
	flag.Parse()

	storage, err := vice.NewBadgerStorage(*storageDir, vice.BadgerOptions{})
	if err != nil {
		log.Fatalf("%sFailed to open snapshot store: %v", vice.ErrorLogPrefix, err)
	}
	defer func() { _ = storage.Close() }()
	store := vice.NewSnapshotStore(storage)

	if *from == "" || *to == "" {
		keys, err := store.Keys(*label)
		if err != nil {
			log.Fatalf("%sFailed to list snapshots: %v", vice.ErrorLogPrefix, err)
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return
	}

	a := load(store, *from)
	b := load(store, *to)
	diff, err := vice.DiffSnapshots(a, b)
	if err != nil {
		log.Fatalf("%sFailed to diff snapshots: %v", vice.ErrorLogPrefix, err)
	}
	if diff == "" {
		log.Println("Snapshots match")
		return
	}
	fmt.Fprint(os.Stdout, diff)
}

func load(store *vice.SnapshotStore, key string) vice.Snapshot {
	s, ok, err := store.Load(key)
	if err != nil {
		log.Fatalf("%sFailed to load snapshot %s: %v", vice.ErrorLogPrefix, key, err)
	} else if !ok {
		log.Fatalf("%sSnapshot not found: %s", vice.ErrorLogPrefix, key)
	}
	return s
}
