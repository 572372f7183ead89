// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

type Sig [sha1.Size]byte

func hash(data []byte) Sig {
	return sha1.Sum(data)
}

type Artifact struct {
	data []byte
	user bool // provided by the user, never pruned
}

// PersistentSet is a set of data blobs mirrored to disk, one file per
// blob named by its hash.
type PersistentSet struct {
	dir string
	m   map[Sig]Artifact
}

func newPersistentSet(dir string) (*PersistentSet, error) {
	if err := os.MkdirAll(dir, 0770); err != nil {
		return nil, err
	}
	ps := &PersistentSet{dir: dir, m: make(map[Sig]Artifact)}
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, fi := range files {
		// Description files carry a suffix and are not artifacts.
		if fi.IsDir() || strings.Contains(fi.Name(), ".") {
			continue
		}
		data, err := ioutil.ReadFile(filepath.Join(dir, fi.Name()))
		if err != nil {
			return nil, err
		}
		ps.m[hash(data)] = Artifact{data, true}
	}
	return ps, nil
}

// add stores a new artifact, returning false if it is already present.
func (ps *PersistentSet) add(a Artifact) bool {
	sig := hash(a.data)
	if _, ok := ps.m[sig]; ok {
		return false
	}
	ps.m[sig] = a
	name := filepath.Join(ps.dir, hex.EncodeToString(sig[:]))
	if err := ioutil.WriteFile(name, a.data, 0660); err != nil {
		fmt.Printf("failed to write %v: %v\n", name, err)
	}
	return true
}

// addDescription stores an auxiliary file next to an artifact.
func (ps *PersistentSet) addDescription(data []byte, desc []byte, suffix string) {
	sig := hash(data)
	name := filepath.Join(ps.dir, hex.EncodeToString(sig[:])+"."+suffix)
	if err := ioutil.WriteFile(name, desc, 0660); err != nil {
		fmt.Printf("failed to write %v: %v\n", name, err)
	}
}

// Storage holds the on-disk state of a campaign under one workdir.
type Storage struct {
	corpus       *PersistentSet
	suppressions *PersistentSet
	crashers     *PersistentSet
}

func newStorage(workdir string) (*Storage, error) {
	s := new(Storage)
	var err error
	if s.corpus, err = newPersistentSet(filepath.Join(workdir, "corpus")); err != nil {
		return nil, err
	}
	if s.suppressions, err = newPersistentSet(filepath.Join(workdir, "suppressions")); err != nil {
		return nil, err
	}
	if s.crashers, err = newPersistentSet(filepath.Join(workdir, "crashers")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) addInput(data []byte) {
	s.corpus.add(Artifact{makeCopy(data), false})
}

// corpusData returns the raw corpus inputs in unspecified order.
func (s *Storage) corpusData() [][]byte {
	res := make([][]byte, 0, len(s.corpus.m))
	for _, a := range s.corpus.m {
		res = append(res, a.data)
	}
	return res
}
