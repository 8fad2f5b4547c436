// Command hdf5dump walks an HDF5 v0 file's group hierarchy and logs what
// it finds: every group, every link (at debug level, so only with
// -verbose), and the file's recorded end-of-file size in human-readable
// form.
package main

import (
	"flag"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	hdf5 "github.com/blockvault/hdf5"
)

func main() {
	path := flag.String("file", "", "path to an HDF5 v0 file")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *path == "" {
		log.Fatal("missing -file")
	}

	f, err := hdf5.Open(*path)
	if err != nil {
		log.WithError(err).Fatal("failed to open file")
	}
	defer f.Close()

	log.WithFields(logrus.Fields{
		"file": *path,
		"size": humanize.Bytes(f.EndOfFile()),
	}).Info("opened file")

	root, err := f.Root()
	if err != nil {
		log.WithError(err).Fatal("failed to open root group")
	}

	if err := dumpGroup(log, root, "/"); err != nil {
		log.WithError(err).Fatal("dump failed")
	}
}

func dumpGroup(log *logrus.Logger, g *hdf5.Group, path string) error {
	links, err := g.Links()
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"path":  path,
		"links": len(links),
	}).Info("group")

	for _, l := range links {
		log.WithFields(logrus.Fields{
			"path":            path,
			"name":            l.Name,
			"objectHeaderOff": l.Entry.ObjectHeaderOffset,
			"isGroup":         l.Entry.CacheType != 0,
		}).Debug("link")

		if l.Entry.CacheType == 0 {
			continue
		}
		child, err := g.OpenGroup(l.Name)
		if err != nil {
			return err
		}
		if err := dumpGroup(log, child, path+l.Name+"/"); err != nil {
			return err
		}
	}

	return nil
}
