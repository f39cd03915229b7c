package mxtool

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Commands are in alphabetical order in this file.

// checkstyle and friends cannot read their file list from a response file,
// and Windows caps a command line at 32768 characters, so batched
// invocations stay under this bound.
const maxCommandLineBytes = 30000

// cmdBuild compiles the Java and native sources of the tree.
func cmdBuild(env *Env, args []string) (int, error) {
	flags := flag.NewFlagSet("build", flag.ContinueOnError)
	clean := flags.Bool("c", false, "removes existing build output")
	noNative := flags.Bool("no-native", false, "do not build the native project")
	jdt := flags.String("jdt", "", "Eclipse installation or path to ecj.jar for the Eclipse batch compiler")
	if err := flags.Parse(args); err != nil {
		return 1, nil
	}

	jdtJar, err := resolveJDT(*jdt)
	if err != nil {
		return -1, err
	}

	allProjects, err := env.JMaxList("projects")
	if err != nil {
		return -1, err
	}
	if !*noNative {
		if env.OS == "windows" {
			env.Log("Skipping C compilation on Windows until it is supported")
		} else {
			allProjects = append([]string{nativeProject}, allProjects...)
		}
	}

	projects, err := selectProjects(flags.Args(), allProjects)
	if err != nil {
		return -1, err
	}

	for _, project := range projects {
		projectDir := filepath.Join(maxineDir, project)

		if project == nativeProject {
			env.Log("Compiling C sources in %s...", projectDir)
			if *clean {
				inv := Command("gmake", "clean")
				inv.Dir = projectDir
				if _, err := env.Run(inv); err != nil {
					return -1, err
				}
			}
			inv := Command("gmake")
			inv.Dir = projectDir
			if _, err := env.Run(inv); err != nil {
				return -1, err
			}
			continue
		}

		if err := buildJavaProject(env, project, projectDir, *clean, jdtJar); err != nil {
			return -1, err
		}
	}
	return 0, nil
}

const nativeProject = "com.oracle.max.vm.native"

// resolveJDT accepts either an ecj.jar path or an Eclipse installation, in
// which case the newest org.eclipse.jdt.core_*.jar plugin wins.
func resolveJDT(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasSuffix(path, ".jar") {
		return path, nil
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", nil
	}
	plugins := filepath.Join(path, "plugins")
	matches, err := filepath.Glob(filepath.Join(plugins, "org.eclipse.jdt.core_*.jar"))
	if err != nil || len(matches) == 0 {
		return "", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches[0], nil
}

func selectProjects(requested, all []string) ([]string, error) {
	if len(requested) == 0 {
		return all, nil
	}
	known := make(map[string]bool, len(all))
	for _, p := range all {
		known[p] = true
	}
	var unknown []string
	for _, p := range requested {
		if !known[p] {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) != 0 {
		return nil, abortf(1, "unknown projects: %s", strings.Join(unknown, ", "))
	}
	return requested, nil
}

func buildJavaProject(env *Env, project, projectDir string, clean bool, jdtJar string) error {
	outputDir, err := env.JMax("output_dir", project)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(outputDir); statErr == nil {
		if clean {
			env.Log("Cleaning %s...", outputDir)
			if err := os.RemoveAll(outputDir); err != nil {
				return abortf(1, "could not clean %s: %v", outputDir, err)
			}
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return abortf(1, "could not create %s: %v", outputDir, err)
			}
		}
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return abortf(1, "could not create %s: %v", outputDir, err)
	}

	classpath, err := env.JMax("classpath", project)
	if err != nil {
		return err
	}
	sourceDirs, err := env.JMaxList("source_dirs", project)
	if err != nil {
		return err
	}

	for _, sourceDir := range sourceDirs {
		javaFiles, otherFiles, err := listSources(sourceDir)
		if err != nil {
			return abortf(1, "could not walk %s: %v", sourceDir, err)
		}
		if len(javaFiles) == 0 {
			env.Log("[no Java sources in %s - skipping]", sourceDir)
			continue
		}

		argfile := filepath.Join(projectDir, "javafilelist.txt")
		if err := os.WriteFile(argfile, []byte(strings.Join(javaFiles, "\n")), 0o644); err != nil {
			return abortf(1, "could not write %s: %v", argfile, err)
		}

		err = compileSources(env, sourceDir, classpath, outputDir, argfile, projectDir, jdtJar)
		os.Remove(argfile)
		if err != nil {
			return err
		}

		// Resources ride along into the output tree, but only where the
		// compiler already produced the package directory.
		for _, name := range otherFiles {
			rel := strings.TrimPrefix(name, sourceDir+string(os.PathSeparator))
			dst := filepath.Join(outputDir, rel)
			if _, err := os.Stat(filepath.Dir(dst)); err != nil {
				continue
			}
			content, err := os.ReadFile(name)
			if err != nil {
				return abortf(1, "could not read %s: %v", name, err)
			}
			if _, err := Materialize(dst, content); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileSources(env *Env, sourceDir, classpath, outputDir, argfile, projectDir, jdtJar string) error {
	if jdtJar == "" {
		env.Log("Compiling Java sources in %s with javac...", sourceDir)
		javac, err := env.JavacPath()
		if err != nil {
			return err
		}
		inv := Command(javac, "-g", "-J-Xmx1g", "-classpath", classpath, "-d", outputDir, "@"+argfile)
		inv.Err = newProprietaryAPIFilter().eat
		_, err = env.Run(inv)
		return err
	}

	env.Log("Compiling Java sources in %s with JDT...", sourceDir)
	jdtProperties := filepath.Join(projectDir, ".settings", "org.eclipse.jdt.core.prefs")
	if _, err := os.Stat(jdtProperties); err != nil {
		return abortf(1, "JDT properties file %s not found", jdtProperties)
	}
	_, err := env.RunJava(Command("-Xmx1g", "-jar", jdtJar, "-1.6", "-cp", classpath, "-g",
		"-properties", jdtProperties,
		"-warn:-unusedImport,-unchecked",
		"-d", outputDir, "@"+argfile))
	return err
}

// proprietaryAPIFilter drops the three-line "Sun proprietary API and may be
// removed in a future release" warning triple emitted when compiling the VM
// classes.
type proprietaryAPIFilter struct {
	c int
}

func newProprietaryAPIFilter() *proprietaryAPIFilter {
	return &proprietaryAPIFilter{}
}

func (f *proprietaryAPIFilter) eat(line string) {
	switch {
	case strings.Contains(line, "Sun proprietary API"):
		f.c = 2
	case f.c != 0:
		f.c--
	default:
		fmt.Fprintln(os.Stderr, line)
	}
}

func listSources(sourceDir string) (javaFiles, otherFiles []string, err error) {
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".java") {
			if name != "package-info.java" {
				javaFiles = append(javaFiles, path)
			}
		} else {
			otherFiles = append(otherFiles, path)
		}
		return nil
	})
	return javaFiles, otherFiles, err
}

// cmdCheck runs Checkstyle over the Java sources. Any warning makes the exit
// code nonzero.
func cmdCheck(env *Env, args []string) (int, error) {
	allProjects, err := env.JMaxList("projects")
	if err != nil {
		return -1, err
	}
	projects, err := selectProjects(args, allProjects)
	if err != nil {
		return -1, err
	}

	checkstyleJar, err := env.JMax("library", "CHECKSTYLE")
	if err != nil {
		return -1, err
	}

	for _, project := range projects {
		projectDir := filepath.Join(maxineDir, project)
		dotCheckstyle := filepath.Join(projectDir, ".checkstyle")
		if _, err := os.Stat(dotCheckstyle); err != nil {
			continue
		}

		config, err := checkstyleConfigPath(dotCheckstyle, projectDir)
		if err != nil {
			return -1, err
		}

		sourceDirs, err := env.JMaxList("source_dirs", project)
		if err != nil {
			return -1, err
		}
		for _, sourceDir := range sourceDirs {
			javaFiles, _, err := listSources(sourceDir)
			if err != nil {
				return -1, abortf(1, "could not walk %s: %v", sourceDir, err)
			}
			if len(javaFiles) == 0 {
				env.Log("[no Java sources in %s - skipping]", sourceDir)
				continue
			}

			javaFiles, err = applyCheckstyleExcludes(env, projectDir, javaFiles)
			if err != nil {
				return -1, err
			}

			env.Log("Running Checkstyle on %s using %s...", sourceDir, config)
			if err := runCheckstyleBatches(env, checkstyleJar, config, projectDir, javaFiles); err != nil {
				return -1, err
			}
		}
	}
	return 0, nil
}

// checkstyleConfigPath reads the local-check-config location out of the
// .checkstyle XML. Absolute locations are rooted at the tree, relative ones
// at the project.
func checkstyleConfigPath(dotCheckstyle, projectDir string) (string, error) {
	data, err := os.ReadFile(dotCheckstyle)
	if err != nil {
		return "", abortf(1, "could not read %s: %v", dotCheckstyle, err)
	}
	var parsed struct {
		LocalCheckConfig []struct {
			Location string `xml:"location,attr"`
		} `xml:"local-check-config"`
	}
	if err := xml.Unmarshal(data, &parsed); err != nil || len(parsed.LocalCheckConfig) == 0 {
		return "", abortf(1, "malformed checkstyle configuration %s", dotCheckstyle)
	}
	location := parsed.LocalCheckConfig[0].Location
	if strings.HasPrefix(location, "/") {
		return filepath.Join(maxineDir, strings.TrimLeft(location, "/")), nil
	}
	return filepath.Join(projectDir, location), nil
}

func applyCheckstyleExcludes(env *Env, projectDir string, javaFiles []string) ([]string, error) {
	excludeFile := filepath.Join(projectDir, ".checkstyle.exclude")
	data, err := os.ReadFile(excludeFile)
	if err != nil {
		if os.IsNotExist(err) {
			return javaFiles, nil
		}
		return nil, abortf(1, "could not read %s: %v", excludeFile, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			patterns = append(patterns, filepath.FromSlash(line))
		}
	}

	kept := javaFiles[:0]
	for _, name := range javaFiles {
		excluded := false
		for _, p := range patterns {
			if strings.Contains(name, p) {
				env.Log("excluding: %s", name)
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, name)
		}
	}
	return kept, nil
}

func runCheckstyleBatches(env *Env, checkstyleJar, config, projectDir string, javaFiles []string) error {
	auditFile := filepath.Join(projectDir, "checkstyleOutput.txt")
	defer os.Remove(auditFile)

	for _, batch := range SplitArgs(javaFiles, maxCommandLineBytes) {
		args := append([]string{"-Xmx1g", "-jar", checkstyleJar, "-c", config, "-o", auditFile}, batch...)
		inv := Command(args...)
		inv.NonZeroIsFatal = false
		code, err := env.RunJava(inv)
		if err != nil {
			return err
		}

		warnings, readErr := auditWarnings(auditFile)
		if readErr != nil {
			return readErr
		}
		if len(warnings) != 0 {
			for _, w := range warnings {
				env.Log("%s", w)
			}
			return abortf(1, "checkstyle reported %d warnings", len(warnings))
		}
		if code != 0 {
			return abortf(code, "checkstyle failed with exit code %d", code)
		}
	}
	return nil
}

func auditWarnings(auditFile string) ([]string, error) {
	data, err := os.ReadFile(auditFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, abortf(1, "could not read %s: %v", auditFile, err)
	}
	var warnings []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "warning:") {
			warnings = append(warnings, strings.TrimSpace(line))
		}
	}
	return warnings, nil
}

// cmdClean removes all class files, images and executables.
func cmdClean(env *Env, args []string) (int, error) {
	if _, err := env.Run(Command("gmake", "-C", filepath.Join(maxineDir, nativeProject), "clean")); err != nil {
		return -1, err
	}

	projects, err := env.JMaxList("projects")
	if err != nil {
		return -1, err
	}
	for _, project := range projects {
		outputDir, err := env.JMax("output_dir", project)
		if err != nil {
			return -1, err
		}
		if outputDir == "" {
			continue
		}
		env.Log("Removing %s...", outputDir)
		if err := os.RemoveAll(outputDir); err != nil {
			return -1, abortf(1, "could not remove %s: %v", outputDir, err)
		}
	}
	return 0, nil
}

// imageConfigs queries the predefined image configurations from the hosted
// tester configuration, parsing key#value lines off stdout.
func imageConfigs(env *Env) (map[string]string, error) {
	classpath, err := env.Classpath("com.oracle.max.vm")
	if err != nil {
		return nil, err
	}

	configs := make(map[string]string)
	sink := func(line string) {
		k, v, found := strings.Cut(line, "#")
		if found {
			configs[k] = strings.TrimRight(v, "\r\n ")
		}
	}

	inv := Command("-client", "-Xmx40m", "-Xms40m", "-XX:NewSize=30m",
		"-cp", classpath, "test.com.sun.max.vm.MaxineTesterConfiguration")
	inv.Out = sink
	if _, err := env.RunJava(inv); err != nil {
		return nil, err
	}
	return configs, nil
}

// cmdConfigs prints the predefined image configurations.
func cmdConfigs(env *Env, args []string) (int, error) {
	configs, err := imageConfigs(env)
	if err != nil {
		return -1, err
	}

	keys := make([]string, 0, len(configs))
	for k := range configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env.Log("The available preconfigured option sets are:")
	fmt.Println()
	fmt.Println("    Configuration    Expansion")
	for _, k := range keys {
		fmt.Printf("    @%-16s %s\n", k, strings.ReplaceAll(configs[k], ",", " "))
	}
	return 0, nil
}

// cmdCopycheck runs the copyright check over the sources.
func cmdCopycheck(env *Env, args []string) (int, error) {
	classpath, err := env.JMax("classpath_noresolve", "com.oracle.max.base")
	if err != nil {
		return -1, err
	}
	return env.RunJava(Command(append([]string{"-cp", classpath, "com.sun.max.tools.CheckCopyright"}, args...)...))
}

// cmdFetchdeps materializes the external library jars the projects database
// knows about, and the GraalVM distribution when one is configured but not
// installed.
func cmdFetchdeps(env *Env, args []string) (int, error) {
	libraries, err := env.JMaxList("libraries")
	if err != nil {
		return -1, err
	}

	for _, name := range libraries {
		dest, err := env.JMax("library", name)
		if err != nil {
			return -1, err
		}
		if _, statErr := os.Stat(dest); statErr == nil {
			debugf("Library %s already present at %s\n", name, dest)
			continue
		}
		urls, err := env.JMaxList("library_urls", name)
		if err != nil {
			return -1, err
		}
		digest, err := env.JMax("library_digest", name)
		if err != nil {
			return -1, err
		}
		if mirrorURL != "" {
			urls = append([]string{mirrorURL + "/" + filepath.Base(dest)}, urls...)
		}
		env.Log("Fetching library %s...", name)
		if err := env.Fetcher().FetchVerified(dest, digest, urls); err != nil {
			return -1, err
		}
	}

	if err := ensureGraal(env); err != nil {
		return -1, err
	}
	return 0, nil
}

// ensureGraal downloads and unpacks a GraalVM distribution next to the tree
// when graal_url is configured and GRAALVM_HOME does not point anywhere.
func ensureGraal(env *Env) error {
	url := env.cfg.Values["graal_url"]
	if url == "" || graalHome != "" {
		return nil
	}
	graalDir := filepath.Join(maxineDir, "graal")
	if _, err := os.Stat(graalDir); err == nil {
		graalHome = graalDir
		return nil
	}

	cacheDir := filepath.Join(userHome, ".mx", "cache")
	archivePath := filepath.Join(cacheDir, filepath.Base(url))
	if _, err := os.Stat(archivePath); err != nil {
		env.Log("Fetching GraalVM distribution...")
		if err := env.Fetcher().Fetch(archivePath, []string{url}); err != nil {
			return err
		}
	}

	env.Log("Unpacking %s into %s...", filepath.Base(archivePath), graalDir)
	if err := os.MkdirAll(graalDir, 0o755); err != nil {
		return abortf(1, "could not create %s: %v", graalDir, err)
	}
	if err := unpackDistribution(archivePath, graalDir); err != nil {
		return abortf(1, "could not unpack %s: %v", archivePath, err)
	}
	graalHome = graalDir
	return nil
}

// cmdImage builds a boot image via the hosted BootImageGenerator.
func cmdImage(env *Env, args []string) (int, error) {
	var systemProps []string
	var imageArgs []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "@"):
			name := strings.TrimPrefix(arg, "@")
			configs, err := imageConfigs(env)
			if err != nil {
				return -1, err
			}
			expansion, ok := configs[name]
			if !ok {
				env.Log("Invalid image configuration: %s", name)
				return -1, abortf(1, "invalid image configuration: %s", name)
			}
			// Splice the preset's options in place of the @name token.
			values := strings.Split(expansion, ",")
			rest := append([]string{}, args[i+1:]...)
			args = append(append(args[:i], values...), rest...)
			i--
		case arg == "-platform" || arg == "-cpu" || arg == "-isa" || arg == "-os" ||
			arg == "-endianness" || arg == "-bits" || arg == "-page" || arg == "-nsig":
			name := strings.TrimLeft(arg, "-")
			i++
			if i == len(args) {
				env.Log("Missing value for %s", arg)
				return -1, abortf(1, "missing value for %s", arg)
			}
			systemProps = append(systemProps, "-Dmax."+name+"="+args[i])
		case strings.HasPrefix(arg, "--XX:LogFile="):
			os.Setenv("MAXINE_LOG_FILE", strings.SplitN(arg, "=", 2)[1])
		case arg == "-vma":
			systemProps = append(systemProps,
				"-Dmax.permsize=2",
				"-Dmax.vmthread.factory.class=com.oracle.max.vm.ext.vma.runtime.VMAVmThreadFactory")
		default:
			imageArgs = append(imageArgs, arg)
		}
	}

	classpath, err := env.Classpath("")
	if err != nil {
		return -1, err
	}

	runArgs := append([]string{}, systemProps...)
	runArgs = append(runArgs, "-cp", classpath, "com.sun.max.vm.hosted.BootImageGenerator",
		"-trace="+strconv.Itoa(env.JavaTrace), "-run=java")
	runArgs = append(runArgs, imageArgs...)

	// MAXVM_OPTIONS rides through to the generated VM.
	if env.MaxVMOpts != "" {
		opts, err := tokenizeVMArgs(env.MaxVMOpts)
		if err != nil {
			return -1, abortf(1, "%v", err)
		}
		runArgs = append(runArgs, opts...)
	}
	return env.RunJava(Command(runArgs...))
}

// cmdJnigen regenerates JniFunctions.java; the exit code is nonzero if the
// file was modified.
func cmdJnigen(env *Env, args []string) (int, error) {
	classpath, err := env.Classpath("com.oracle.max.vm")
	if err != nil {
		return -1, err
	}
	inv := Command("-cp", classpath, "com.sun.max.vm.jni.JniFunctionsGenerator")
	inv.NonZeroIsFatal = false
	return env.RunJava(inv)
}

// cmdJttgen regenerates the JavaTester harness and run scheme.
func cmdJttgen(env *Env, args []string) (int, error) {
	classpath, err := env.Classpath("com.oracle.max.vm")
	if err != nil {
		return -1, err
	}

	testDir := filepath.Join(maxineDir, "com.oracle.max.vm", "test")
	entries, err := os.ReadDir(filepath.Join(testDir, "jtt"))
	if err != nil {
		return -1, abortf(1, "could not list %s: %v", filepath.Join(testDir, "jtt"), err)
	}
	var tests []string
	for _, entry := range entries {
		if entry.Name() == "hotspot" || entry.Name() == "fail" {
			continue
		}
		tests = append(tests, filepath.Join("jtt", entry.Name()))
	}

	runArgs := append([]string{"-cp", classpath, "test.com.sun.max.vm.compiler.JavaTester",
		"-scenario=target", "-run-scheme-package=all", "-native-tests"}, tests...)
	inv := Command(runArgs...)
	inv.Dir = testDir
	inv.NonZeroIsFatal = false
	return env.RunJava(inv)
}

// cmdT1xgen regenerates T1XTemplateSource.java; the exit code is nonzero if
// the auto-generated part was modified.
func cmdT1xgen(env *Env, args []string) (int, error) {
	classpath, err := env.Classpath("com.oracle.max.vm.ext.t1x")
	if err != nil {
		return -1, err
	}
	inv := Command("-cp", classpath, "com.oracle.max.vm.ext.t1x.T1XTemplateGenerator")
	inv.NonZeroIsFatal = false
	return env.RunJava(inv)
}

// cmdVersion prints version information.
func cmdVersion(env *Env, args []string) (int, error) {
	fmt.Printf("mx %s (built %s)\n", version, buildDate)
	return 0, nil
}
