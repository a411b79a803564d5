// Command texsync-replay replays a texture coherency scenario against a
// headless software GPU and reports the tracking state after each step.
//
//	texsync-replay -scenario testdata/layers.toml -v
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/texsync"
)

func main() {
	var (
		path    = flag.String("scenario", "", "scenario TOML file")
		verbose = flag.Bool("v", false, "log texsync diagnostics")
	)
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	out := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if *verbose {
		texsync.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	sc, err := loadScenario(*path)
	if err != nil {
		log.Fatalf("texsync-replay: %v", err)
	}

	r, err := newReplayer(sc, out)
	if err != nil {
		log.Fatalf("texsync-replay: %v", err)
	}

	err = r.run(sc.Steps)
	r.Close()
	if err != nil {
		log.Fatalf("texsync-replay: %v", err)
	}

	out.Info("scenario complete", "steps", len(sc.Steps))
}
