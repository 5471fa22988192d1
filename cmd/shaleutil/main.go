package main

import (
	"fmt"
	"os"

	"shaledb"
	"shaledb/db"
)

func main() {
	env := shaledb.DefaultEnv()
	args := os.Args
	ok := true
	if len(args) < 2 {
		usage()
		ok = false
	} else {
		switch args[1] {
		case "dump":
			ok = handleDumpCommand(env, args[2:])
		default:
			usage()
			ok = false
		}
	}
	if !ok {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: shaleutil command...")
	fmt.Fprintln(os.Stderr, "   dump files...         -- dump contents of specified files")
}

func handleDumpCommand(env shaledb.Env, args []string) bool {
	printer := new(stdoutPrinter)
	ok := true
	for _, arg := range args {
		if err := db.DumpFile(env, arg, printer); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			ok = false
		}
	}
	return ok
}

type stdoutPrinter struct{}

func (p *stdoutPrinter) Append(data []byte) error {
	_, err := os.Stdout.Write(data)
	return err
}

func (p *stdoutPrinter) Flush() error { return nil }
func (p *stdoutPrinter) Sync() error  { return nil }
func (p *stdoutPrinter) Close() error { return nil }
