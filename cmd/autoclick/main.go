package main

import (
	"fmt"
	"os"
)

const usage = `usage: autoclick <command> [flags]

commands:
  monitor           watch a screen region and click matched templates
  calibrate         report the best template score for the current screen
  capture-template  save a screen region as a template image
  record            record pointer moves and clicks to a trajectory file
  replay            replay a trajectory file
  stats             summarise the session journal

run 'autoclick <command> --help' for command flags
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "monitor":
		err = runMonitor(args)
	case "calibrate":
		err = runCalibrate(args)
	case "capture-template":
		err = runCaptureTemplate(args)
	case "record":
		err = runRecord(args)
	case "replay":
		err = runReplay(args)
	case "stats":
		err = runStats(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "autoclick %s: %v\n", cmd, err)
		os.Exit(1)
	}
}
