// chronocapd captures network traffic in parallel and writes it to disk in
// chronological order, rotating output files on fixed interval boundaries.
//
// The process started by the operator acts as a supervisor: it forks the
// actual capture process and forwards signals to it, so the service keeps a
// stable parent pid for the lifetime of the deployment.
package main

import (
	"flag"
	"fmt"
	"os"

	"ChronoCap/internal/capture"
	"ChronoCap/internal/config"
	"ChronoCap/internal/logging"
)

func usage(prog string) {
	fmt.Printf("Usage: %s [ -l logmode ] -c configfile\n\n", prog)
	fmt.Printf("Accepted logmodes:\n")
	fmt.Printf("\tterminal\n\tfile\n\tsyslog\n\tdisabled\n")
}

func main() {
	// Disable threaded I/O in any libtrace-based tooling that inherits this
	// environment; output is uncompressed, so the extra threads are pure
	// overhead.
	if err := os.Setenv("LIBTRACEIO", "nothreads"); err != nil {
		fmt.Fprintf(os.Stderr, "chronocapd: unable to set trace I/O environment\n")
		os.Exit(1)
	}

	configPath := flag.String("c", "", "Path to the configuration file (required).")
	logModeStr := flag.String("l", "", "Log mode: terminal, file, syslog or disabled.")
	help := flag.Bool("h", false, "Print usage and exit.")
	flag.Usage = func() { usage(os.Args[0]) }
	flag.Parse()

	if *help {
		usage(os.Args[0])
		os.Exit(1)
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "chronocapd: no config file specified. Use -c to specify one.\n")
		usage(os.Args[0])
		os.Exit(1)
	}

	mode, err := logging.ParseMode(*logModeStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronocapd: %v\n", err)
		usage(os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronocapd: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(mode, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chronocapd: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if os.Getenv(capture.CaptureProcessEnv) != "" {
		if err := capture.Run(cfg, log); err != nil {
			log.Errorf("capture process failed: %v", err)
			os.Exit(1)
		}
		return
	}

	os.Exit(capture.NewSupervisor(*configPath, *logModeStr, cfg, log).Run())
}
