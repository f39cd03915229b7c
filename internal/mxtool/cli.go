package mxtool

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/gookit/color"
)

// command ties a subcommand body to its usage line and help text. Each body
// receives the shared environment and the leftover argument tokens; a nil
// error with code 0 means success, and an AbortError propagates to the
// process exit status.
type command struct {
	fn    func(env *Env, args []string) (int, error)
	usage string
	help  string
}

// Table of commands in alphabetical order.
var commands = map[string]command{
	"build":     {cmdBuild, "[options] projects...", "compile the Java and native sources, linking the latter"},
	"check":     {cmdCheck, "projects...", "run Checkstyle on the Java sources"},
	"clean":     {cmdClean, "", "remove all class files, images, and executables"},
	"configs":   {cmdConfigs, "", "print the predefined image configurations"},
	"copycheck": {cmdCopycheck, "", "run copyright check on the sources"},
	"fetchdeps": {cmdFetchdeps, "", "download missing library jars and toolchain distributions"},
	"image":     {cmdImage, "[options] classes|packages...", "build a boot image"},
	"jnigen":    {cmdJnigen, "", "regenerate JniFunctions.java from JniFunctionsSource.java"},
	"jttgen":    {cmdJttgen, "", "regenerate harness and run scheme for the JavaTester tests"},
	"pull":      {cmdPull, "[artifact...]", "list or fetch artifacts from the mirror"},
	"t1xgen":    {cmdT1xgen, "", "regenerate content in T1XTemplateSource.java"},
	"upload":    {cmdUpload, "file...", "upload built artifacts to the mirror"},
	"version":   {cmdVersion, "", "print version information"},
}

// help reads the table it lives in, so it cannot be a literal entry.
func init() {
	commands["help"] = command{cmdHelp, "[command]", "show help for a given command"}
}

// printHelp prints the commands table
func printHelp() {
	cPrintln(colSuccess, "Usage: mx [-v] [-d] <command> [arguments]")
	cPrintln(colSuccess, "Run 'mx help <command>' for details")
	fmt.Println()
	colInfo.Println("Available Commands:")

	names := make([]string, 0, len(commands))
	maxLen := 0
	for name, c := range commands {
		names = append(names, name)
		length := len(name) + len(c.usage)
		if c.usage != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	sort.Strings(names)
	columnWidth := maxLen + 4

	for _, name := range names {
		c := commands[name]
		usageString := "  " + name
		if c.usage != "" {
			usageString += " " + c.usage
		}

		fmt.Print("  ")
		color.Bold.Print(name)
		if c.usage != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.usage)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		colInfo.Println(c.help)
	}
	fmt.Println()
}

// cmdHelp shows the command table, or detailed help for one command.
func cmdHelp(env *Env, args []string) (int, error) {
	if len(args) == 0 {
		printHelp()
		return 0, nil
	}
	name := args[0]
	c, ok := commands[name]
	if !ok {
		return -1, abortf(1, "unknown command: %s", name)
	}
	fmt.Printf("mx %s %s\n\n    %s\n", name, c.usage, c.help)
	return 0, nil
}

// Main is the CLI entrypoint for cmd invocation. It returns the process
// exit code.
func Main() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An operator interrupt must turn into a clean abort, never a stack
	// dump. Children are not cancelled; they run to completion or die with
	// the terminal's own signal delivery.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v, aborting\n", sig)
			os.Exit(1)
		case <-ctx.Done():
		}
	}()

	args := os.Args[1:]
	for len(args) > 0 {
		switch args[0] {
		case "-v", "--verbose":
			Verbose = true
			args = args[1:]
			continue
		case "-d", "--debug":
			Debug = true
			args = args[1:]
			continue
		}
		break
	}

	if len(args) == 0 {
		printHelp()
		return 0
	}

	// The tree config wins; the user-level config only fills gaps.
	cfg := newConfig()
	if err := cfg.LoadFile(ConfigFile, true); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", ConfigFile, err)
	}
	if home := os.Getenv("HOME"); home != "" {
		userConf := filepath.Join(home, ".mx", ConfigFile)
		if err := cfg.LoadFile(userConf, false); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", userConf, err)
		}
	}
	mergeEnvOverrides(cfg)
	initConfig(cfg)

	c, ok := commands[args[0]]
	if !ok {
		colError.Printf("unknown command: %s\n", args[0])
		printHelp()
		return 1
	}

	runner := NewRunner(ctx)
	env := NewEnv(cfg, runner, os.Getenv)

	code, err := c.fn(env, args[1:])
	if err != nil {
		colError.Printf("%s\n", err.Error())
		return exitStatus(err)
	}
	if code < 0 {
		code = 1
	}
	return code
}
