// Command dca-supervisor exposes the process-supervisor CLI: start, stop,
// restart, status, maintenance {on|off}.
package main

import (
	"fmt"
	"os"

	"dcaengine/internal/config"
	"dcaengine/internal/logging"
	"dcaengine/internal/supervisor"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	binaryPath := os.Getenv("DCA_ENGINE_BINARY")
	if binaryPath == "" {
		binaryPath = "./dca-engine"
	}
	sup := supervisor.New(cfg.PIDFile, cfg.MaintenanceFile, binaryPath, nil, logger)

	var cmdErr error
	switch os.Args[1] {
	case "start":
		cmdErr = sup.Start()
	case "stop":
		cmdErr = sup.Stop()
	case "restart":
		cmdErr = sup.Restart()
	case "status":
		running, pid, err := sup.Status()
		if err != nil {
			cmdErr = err
			break
		}
		if running {
			fmt.Printf("running (pid %d)\n", pid)
		} else {
			fmt.Println("not running")
		}
	case "maintenance":
		if len(os.Args) < 3 {
			usage()
			os.Exit(1)
		}
		switch os.Args[2] {
		case "on":
			cmdErr = sup.MaintenanceOn()
		case "off":
			cmdErr = sup.MaintenanceOff()
		default:
			usage()
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dca-supervisor {start|stop|restart|status|maintenance {on|off}}")
}
