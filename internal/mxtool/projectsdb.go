package mxtool

import (
	"path/filepath"
	"strings"
)

// The projects database is an external key lookup hosted in Java: project
// lists, output directories, class paths, source directories and library
// locations all come back as plain strings. Nothing is cached here; the
// hosted tool owns consistency.

// jmaxClasspath locates the bootstrap classes that answer database queries.
func (e *Env) jmaxClasspath() string {
	if cp := e.cfg.Values["jmax_classpath"]; cp != "" {
		return cp
	}
	return filepath.Join(maxineDir, "com.oracle.max.base", "bin")
}

// JMax queries the projects database with a key path and returns the trimmed
// response. A query failure is fatal: no subcommand can do anything useful
// without the metadata.
func (e *Env) JMax(keyPath ...string) (string, error) {
	var lines []string
	sink := func(line string) { lines = append(lines, line) }

	args := []string{"-client", "-Xmx40m", "-Xms40m", "-XX:NewSize=30m",
		"-cp", e.jmaxClasspath(), "com.sun.max.ide.JMax"}
	args = append(args, keyPath...)

	inv := Command(args...)
	inv.Out = sink
	if _, err := e.RunJava(inv); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// JMaxList queries a whitespace-delimited list value.
func (e *Env) JMaxList(keyPath ...string) ([]string, error) {
	value, err := e.JMax(keyPath...)
	if err != nil {
		return nil, err
	}
	return strings.Fields(value), nil
}

// Classpath resolves the class path for a project, or for the whole tree
// when no project is named.
func (e *Env) Classpath(project string) (string, error) {
	if project == "" {
		return e.JMax("classpath")
	}
	return e.JMax("classpath", project)
}
