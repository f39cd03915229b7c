package mxtool

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
)

type envStatus int

const (
	stateUninitialized envStatus = iota
	stateInitializing
	stateReady
	stateFailed
)

// Env is the process-wide toolchain environment handed to every subcommand.
// It starts out with raw, unvalidated inputs and is validated in place by the
// first operation that needs a Java invocation. After that every consumer
// observes the same canonical state; the probe never runs twice.
//
// Initialization assumes a single-threaded caller sequence.
type Env struct {
	cfg    *Config
	runner *Runner

	JavaHome    string
	Java        string // executable, defaults to <JavaHome>/bin/java
	JavaVersion string
	OS          string // darwin, linux, solaris or windows
	Remote      bool   // OS was overridden: cross-platform image generation
	DebugVM     bool   // attach remote-debugging flags to every Java run
	JavaTrace   int
	MaxVMOpts   string // MAXVM_OPTIONS passthrough for the generated VM

	vmPrefixRaw string
	vmArgsRaw   string
	vmSuffixRaw string

	javaArgs []string // canonical VM argument list, valid once status is stateReady
	status   envStatus

	fetcher *Fetcher
}

// NewEnv collects the raw environment inputs without validating anything.
// Validation is deferred to the first Java invocation.
func NewEnv(cfg *Config, runner *Runner, getenv func(string) string) *Env {
	env := &Env{
		cfg:    cfg,
		runner: runner,
	}

	env.JavaHome = cfg.Values["java_home"]
	if env.JavaHome == "" {
		env.JavaHome = getenv("JAVA_HOME")
	}

	env.vmPrefixRaw = cfg.Values["java_args_pfx"]
	env.vmArgsRaw = cfg.Values["java_args"]
	env.vmSuffixRaw = cfg.Values["java_args_sfx"]
	env.MaxVMOpts = getenv("MAXVM_OPTIONS")

	env.JavaTrace = 1
	if t := cfg.Values["java_trace"]; t != "" {
		if n, err := strconv.Atoi(t); err == nil {
			env.JavaTrace = n
		}
	}

	if osName := cfg.Values["os"]; osName != "" {
		env.OS = osName
		env.Remote = true
	} else {
		env.OS = hostOS()
	}

	env.DebugVM = cfg.Values["java_dbg"] == "1"
	return env
}

func hostOS() string {
	switch runtime.GOOS {
	case "darwin", "linux", "solaris", "windows":
		return runtime.GOOS
	default:
		return "linux"
	}
}

// tokenizeVMArgs splits a raw VM-argument string with shell quoting rules,
// after stripping the leading '@' sentinel if present.
func tokenizeVMArgs(raw string) ([]string, error) {
	raw = strings.TrimPrefix(raw, "@")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed VM argument string %q: %w", raw, err)
	}
	return tokens, nil
}

// initJava validates the JDK and freezes the canonical VM argument list.
// Idempotent: only the first call probes the executable.
func (e *Env) initJava() error {
	switch e.status {
	case stateReady:
		return nil
	case stateFailed:
		return abortf(1, "environment initialization already failed")
	}
	e.status = stateInitializing

	if e.JavaHome == "" {
		e.status = stateFailed
		return abortf(1, "java_home is not set; configure it in %s or export JAVA_HOME", ConfigFile)
	}
	e.Java = filepath.Join(e.JavaHome, "bin", "java")

	var args []string
	for _, raw := range []string{e.vmPrefixRaw, e.vmArgsRaw, e.vmSuffixRaw} {
		tokens, err := tokenizeVMArgs(raw)
		if err != nil {
			e.status = stateFailed
			return abortf(1, "%v", err)
		}
		args = append(args, tokens...)
	}

	// Probe for 64-bit support first; the combined output of whichever probe
	// succeeds carries the version banner.
	output, ok, err := e.probeVersion("-d64")
	if err != nil {
		e.status = stateFailed
		return err
	}
	if ok {
		args = append([]string{"-d64"}, args...)
	} else {
		output, ok, err = e.probeVersion()
		if err != nil {
			e.status = stateFailed
			return err
		}
		if !ok {
			e.status = stateFailed
			return abortf(1, "%s -version failed:\n%s", e.Java, output)
		}
	}

	if err := e.parseVersion(output); err != nil {
		e.status = stateFailed
		return err
	}

	if e.DebugVM {
		args = append(args, "-Xdebug", "-Xrunjdwp:transport=dt_socket,address=8000,server=y,suspend=y")
	}

	e.javaArgs = args
	e.status = stateReady
	return nil
}

// probeVersion runs the Java executable with a version query, capturing
// stdout and stderr into one buffer. ok reports a zero exit; a launch
// failure surfaces as the error.
func (e *Env) probeVersion(extraArgs ...string) (string, bool, error) {
	// One sink serves both streams, so it runs on two drain goroutines.
	var mu sync.Mutex
	var lines []string
	sink := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}

	inv := Invocation{
		Args:           append(append([]string{e.Java}, extraArgs...), "-version"),
		Out:            sink,
		Err:            sink,
		NonZeroIsFatal: false,
	}
	code, err := e.runner.Run(inv)
	if err != nil {
		return "", false, err
	}
	return strings.Join(lines, "\n"), code == 0, nil
}

// parseVersion reads the banner's first three tokens: a known runtime
// identifier, the literal word "version" and the quoted version string.
func (e *Env) parseVersion(output string) error {
	fields := strings.Fields(output)
	if len(fields) < 3 {
		return abortf(1, "unexpected output from %s -version:\n%s", e.Java, output)
	}
	if fields[0] != "java" && fields[0] != "openjdk" {
		return abortf(1, "unexpected runtime identifier %q in version output:\n%s", fields[0], output)
	}
	if fields[1] != "version" {
		return abortf(1, "unexpected output from %s -version:\n%s", e.Java, output)
	}
	ver := strings.Trim(fields[2], `"`)
	for _, accepted := range acceptedJavas {
		if strings.HasPrefix(ver, accepted) {
			e.JavaVersion = ver
			return nil
		}
	}
	return abortf(1, "requires Java version %s, got %s", strings.Join(acceptedJavas, " or "), ver)
}

// JavaCommand returns the canonical Java invocation prefix followed by args,
// initializing the environment on first use.
func (e *Env) JavaCommand(args ...string) ([]string, error) {
	if err := e.initJava(); err != nil {
		return nil, err
	}
	cmd := make([]string, 0, 1+len(e.javaArgs)+len(args))
	cmd = append(cmd, e.Java)
	cmd = append(cmd, e.javaArgs...)
	cmd = append(cmd, args...)
	return cmd, nil
}

// RunJava executes a hosted Java tool with the canonical VM argument prefix.
func (e *Env) RunJava(inv Invocation) (int, error) {
	args, err := e.JavaCommand(inv.Args...)
	if err != nil {
		return -1, err
	}
	inv.Args = args
	return e.runner.Run(inv)
}

// Run executes an arbitrary external tool.
func (e *Env) Run(inv Invocation) (int, error) {
	return e.runner.Run(inv)
}

// Fetcher returns the shared content fetcher, created on first use.
func (e *Env) Fetcher() *Fetcher {
	if e.fetcher == nil {
		e.fetcher = NewFetcher(e.runner)
	}
	return e.fetcher
}

// JavacPath returns the validated Java compiler executable.
func (e *Env) JavacPath() (string, error) {
	if err := e.initJava(); err != nil {
		return "", err
	}
	return filepath.Join(e.JavaHome, "bin", "javac"), nil
}

// Log prints a status line the way every subcommand reports progress.
func (e *Env) Log(format string, args ...any) {
	colArrow.Print("-> ")
	cPrintf(colSuccess, format+"\n", args...)
}
