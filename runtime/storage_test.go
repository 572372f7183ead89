package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPersistentSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ps, err := newPersistentSet(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ps.add(Artifact{[]byte("input-1"), false}) {
		t.Error("fresh artifact rejected")
	}
	if ps.add(Artifact{[]byte("input-1"), false}) {
		t.Error("duplicate artifact accepted")
	}
	ps.addDescription([]byte("input-1"), []byte("details"), "output")

	// A new set over the same dir sees the artifact but not the
	// description file.
	ps2, err := newPersistentSet(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps2.m) != 1 {
		t.Fatalf("reloaded set has %v artifacts, want 1", len(ps2.m))
	}
	for _, a := range ps2.m {
		if !bytes.Equal(a.data, []byte("input-1")) || !a.user {
			t.Errorf("reloaded artifact = %q user=%v", a.data, a.user)
		}
	}
}

func TestStorageLayout(t *testing.T) {
	workdir := t.TempDir()
	s, err := newStorage(workdir)
	if err != nil {
		t.Fatal(err)
	}
	s.addInput([]byte("seed"))

	for _, sub := range []string{"corpus", "suppressions", "crashers"} {
		if fi, err := os.Stat(filepath.Join(workdir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("missing %v dir: %v", sub, err)
		}
	}
	data := s.corpusData()
	if len(data) != 1 || string(data[0]) != "seed" {
		t.Errorf("corpusData = %q", data)
	}
}
