/*
 * jvmbroker - a concurrent JVM core
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Command jvmbroker is the CLI entry point: parse options, locate and
// load the starting class, spawn its main thread, and wait for the VM
// to exit.
package main

import (
	"fmt"
	"os"
	"strings"

	"jvmbroker/classpath"
	"jvmbroker/internal/globals"
	"jvmbroker/internal/log"
	"jvmbroker/internal/shutdown"
	"jvmbroker/vm"
)

// option is one recognized flag; action receives the embedded
// argument value, if any (the part after a ':' or '=').
type option struct {
	action func(arg string)
}

func main() {
	g := globals.InitGlobals(os.Args[0])
	globals.InitGlobalsSingleton(&g)
	log.Init()

	classPath, mainClass, appArgs, err := parseArgs(os.Args[1:], &g)
	if err != nil {
		if err == errShowedMessage {
			shutdown.Exit(shutdown.OK)
		}
		_ = log.Log(err.Error(), log.SEVERE)
		showUsage(os.Stderr)
		shutdown.Exit(shutdown.AppException)
	}
	if mainClass == "" {
		_ = log.Log("no main class specified", log.SEVERE)
		showUsage(os.Stderr)
		shutdown.Exit(shutdown.AppException)
	}

	cp := classpath.NewFromString(classPath)
	machine := vm.New(cp)

	_ = log.Log("loading "+mainClass, log.INFO)
	if _, ok := machine.RunMainClass(mainClass, appArgs); !ok {
		_ = log.Log("failed to start "+mainClass, log.SEVERE)
		shutdown.Exit(shutdown.JVMException)
	}

	code := machine.Exit()
	shutdown.Exit(code)
}

var errShowedMessage = fmt.Errorf("usage message shown")

// parseArgs implements the teacher's "root option plus embedded arg"
// parsing shape (cli.go's getOptionRootAndArgs), scaled down to the
// handful of flags this runtime actually recognizes. The first
// argument that doesn't start with '-' and isn't consumed by a flag
// is the main class name; everything after it is the program's own
// arguments.
func parseArgs(args []string, g *globals.Globals) (classPath, mainClass string, appArgs []string, err error) {
	opts := map[string]option{
		"-h":     {func(string) { showUsage(os.Stderr) }},
		"-help":  {func(string) { showUsage(os.Stderr) }},
		"--help": {func(string) { showUsage(os.Stdout) }},
	}

	for i := 0; i < len(args); i++ {
		a := args[i]

		if a == "-c" || a == "-cp" || a == "-classpath" {
			if i+1 >= len(args) {
				return "", "", nil, fmt.Errorf("%s requires an argument", a)
			}
			i++
			classPath = args[i]
			continue
		}

		if strings.HasPrefix(a, "-verbose") {
			_, arg := splitOptionArg(a)
			if !log.SetLevel(strings.ToUpper(arg)) {
				log.SetLevel("INFO")
			}
			continue
		}

		if strings.HasPrefix(a, "-") {
			root, arg := splitOptionArg(a)
			if opt, ok := opts[root]; ok {
				opt.action(arg)
				return "", "", nil, errShowedMessage
			}
			fmt.Fprintf(os.Stderr, "%s is not a recognized option. Ignored.\n", a)
			continue
		}

		mainClass = a
		appArgs = append(appArgs, args[i+1:]...)
		break
	}

	g.Classpath = classPath
	g.StartingClass = mainClass
	g.AppArgs = appArgs
	return classPath, mainClass, appArgs, nil
}

// splitOptionArg splits an option at its first ':' or '=', the way
// cli.go's getOptionRootAndArgs does.
func splitOptionArg(opt string) (root, arg string) {
	if idx := strings.IndexAny(opt, ":="); idx != -1 {
		return opt[:idx], opt[idx+1:]
	}
	return opt, ""
}

func showUsage(out *os.File) {
	fmt.Fprintln(out, `
Usage: jvmbroker [options] <mainclass> [args...]

where options include:
    -c, -cp, -classpath <path>   semicolon-separated class search path
    -verbose:<level>         FINEST|FINER|FINE|CONFIG|INFO|WARNING|SEVERE
    -h -help --help          print this help message`)
}
