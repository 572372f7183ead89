// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/dcasenove/parmesan/config"
	. "github.com/dcasenove/parmesan/coverage"
	"github.com/dcasenove/parmesan/dyncfg"
)

var (
	flagConfig   = flag.String("config", "", "TOML campaign configuration file")
	flagFunc     = flag.String("func", "", "which function to fuzz")
	flagWorkdir  = flag.String("workdir", ".", "dir with persistent work data")
	flagMinimize = flag.Duration("minimize", 1*time.Minute, "time limit for input minimization")
	flagDup      = flag.Bool("dup", false, "collect duplicate crashers")
	flagV        = flag.Int("v", 0, "verbosity level")

	shutdown context.Context
)

// loadConfig merges the TOML file (if any) with command-line flags;
// flags given explicitly win over the file. The effective settings are
// mirrored back into the flag values, which the rest of the code reads.
func loadConfig() *config.Config {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			log.Fatal(err)
		}
	}
	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if set["workdir"] || cfg.Workdir == "" {
		cfg.Workdir = *flagWorkdir
	}
	if set["func"] {
		cfg.Func = *flagFunc
	}
	if set["minimize"] {
		cfg.Minimize = config.Duration{Duration: *flagMinimize}
	}
	if set["dup"] {
		cfg.Dup = *flagDup
	}
	if set["v"] {
		cfg.Verbosity = *flagV
	}
	*flagWorkdir = cfg.Workdir
	*flagMinimize = cfg.MinimizeBudget()
	*flagDup = cfg.Dup
	*flagV = cfg.Verbosity
	return cfg
}

func main() {
	flag.Parse()
	cfg := loadConfig()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	var cancel context.CancelFunc
	shutdown, cancel = context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()

		// If this hasn't terminated after a delay then exit with an error
		<-time.After(time.Second)
		panic("Failed to respond to SIGINT")
	}()

	debug.SetGCPercent(50) // most memory is in large binary blobs

	*flagWorkdir = expandHomeDir(*flagWorkdir)
	s, err := newStorage(*flagWorkdir)
	if err != nil {
		fmt.Println("Failed to load data:", err)
		os.Exit(1)
	}

	graph := dyncfg.NewEmpty()
	if cfg.CfgFile != "" {
		data, err := dyncfg.ParseFile(cfg.CfgFile)
		if err != nil {
			log.Fatalf("failed to load control-flow data: %v", err)
		}
		graph = dyncfg.New(data)
		log.Printf("loaded %v targets from %v", graph.ActiveTargets(), cfg.CfgFile)
	}

	f := &Fuzzer{
		startTime:      time.Now(),
		lastInput:      time.Now(),
		storage:        s,
		badInputs:      make(map[Sig]struct{}),
		suppressedSigs: make(map[Sig]struct{}),
		corpusSigs:     make(map[Sig]struct{}),
		fuzzFunc:       selectFuzzFunc(cfg.Func),
		lastExec:       time.Now(),
		graph:          graph,
		bestDist:       dyncfg.UndefScore,
	}
	go f.watchForHangingInputs()

	if len(f.storage.corpus.m) == 0 {
		f.storage.addInput([]byte{})
	}

	// Prepare list of string and integer literals.
	for _, lit := range Literals {
		f.lits = append(f.lits, []byte(lit))
	}

	f.maxCover = make([]byte, CoverSize)

	f.mutator = newMutator()

	if cfg.TrackLog != "" {
		if err := f.loadTrackLog(cfg); err != nil {
			log.Printf("track log: %v", err)
		}
	}

	// Triage the initial corpus.
	for _, a := range f.storage.corpusData() {
		if shutdown.Err() != nil {
			break
		}
		f.broadcastStats()
		f.triageInput(Input{data: a})
	}

	for shutdown.Err() == nil {
		f.broadcastStats()
		if *flagV >= 1 {
			log.Printf("worker loop crasherQueue=%d triageQueue=%d", len(f.crasherQueue), len(f.triageQueue))
		}
		if len(f.crasherQueue) > 0 {
			n := len(f.crasherQueue) - 1
			crash := f.crasherQueue[n]
			f.crasherQueue[n] = NewCrasherArgs{}
			f.crasherQueue = f.crasherQueue[:n]
			if *flagV >= 2 {
				log.Printf("worker processes crasher [%v]%x", len(crash.Data), hash(crash.Data))
			}
			f.processCrasher(crash)
			continue
		}

		if len(f.triageQueue) > 0 {
			input := f.triageQueue[0]
			f.triageQueue = f.triageQueue[1:]
			if *flagV >= 2 {
				log.Printf("worker triages local input [%v]%x", len(input.data), hash(input.data))
			}
			f.triageInput(input)
			continue
		}

		// Mutate the corpus input currently closest to a target.
		data := f.mutator.generate(f.pickInput(), f.lits, f.hints)
		f.triageInput(Input{data: data})
	}
}

// Watches for inputs that are hanging and kills the process
func (f *Fuzzer) watchForHangingInputs() {
	for range time.Tick(time.Second) {
		if time.Since(f.lastExec) > 10*time.Second {
			fmt.Printf("Input causes hang: %s\n", strconv.Quote(string(f.currentCandidate)))
			b := &bytes.Buffer{}
			// TODO: this too can hang if the infinite loop isn't interruptible by the scheduler
			pprof.Lookup("goroutine").WriteTo(b, 1)
			output := fmt.Sprintf("hanger\n\n%s", b.String())
			panic(output)
		}
	}
}

// expandHomeDir expands the tilde sign and replaces it
// with current users home directory and returns it.
func expandHomeDir(path string) string {
	if len(path) > 2 && path[:2] == "~/" {
		usr, _ := user.Current()
		path = filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}
