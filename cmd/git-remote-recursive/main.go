/*

Command git-remote-recursive is the remote-helper entry point: the
thin ambient wrapper git itself invokes for any URL of the form
"recursive::<address>". It speaks the host DVCS's standard
remote-helper line protocol on stdio and translates it into calls
against the Sync Engine; the protocol framing itself (capability
advertisement, per-line commands, blank-line terminators) is an
external collaborator, not part of the core this repository
implements (see the package doc of the root package).

*/
package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"

	recursiveremote "github.com/t7a/recursive-remote"
	"github.com/t7a/recursive-remote/config"
	"github.com/t7a/recursive-remote/engine"
	"github.com/t7a/recursive-remote/internal/gitshell"
)

func init() {
	if os.Getenv("DEBUG") == "1" {
		log.SetLevel(log.DebugLevel)
	}
	logrus.SetReportCaller(true)
	formatter := &logrus.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap:         logrus.FieldMap{logrus.FieldKeyFile: "caller"},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	logrus.SetFormatter(formatter)
}

func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (string, string) {
		wd, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d", strings.TrimPrefix(f.File, wd), f.Line)
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, in *os.File, out *os.File) int {
	if len(args) < 2 {
		log.Error("usage: git-remote-recursive <remote-name-or-url> <url>")
		return 1
	}
	remoteName, remoteURL := args[0], args[1]

	repoDir, err := gitDir()
	if err != nil {
		log.Errorf("locate git dir: %v", err)
		return 1
	}
	cfg, err := config.Resolve(repoDir, remoteName, remoteURL)
	if err != nil {
		log.Errorf("resolve configuration: %v", err)
		return 1
	}
	scratchDir := repoDir + "/recursive_remote"
	e, err := engine.Open(cfg, scratchDir, repoDir)
	if err != nil {
		log.Errorf("open engine: %v", err)
		return 1
	}
	defer e.Close()

	h := &helper{engine: e, out: out}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case line == "capabilities":
			h.capabilities()
		case line == "list" || line == "list for-push":
			if err := h.list(); err != nil {
				log.Errorf("list: %v", err)
				return 1
			}
		case strings.HasPrefix(line, "option "):
			h.option(strings.TrimPrefix(line, "option "))
		case strings.HasPrefix(line, "fetch "):
			if err := h.fetchBatch(scanner, line); err != nil {
				log.Errorf("fetch: %v", err)
				return 1
			}
		case strings.HasPrefix(line, "push "):
			if err := h.pushBatch(scanner, line); err != nil {
				log.Errorf("push: %v", err)
				return 1
			}
		default:
			log.Warnf("unrecognized remote-helper command %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("read command: %v", err)
		return 1
	}

	if err := e.Mirror.GCAuto(); err != nil {
		log.Warnf("mirror gc: %v", err)
	}
	if err := e.Tracker.GCAuto(); err != nil {
		log.Warnf("tracker gc: %v", err)
	}
	return 0
}

// gitDir resolves the caller's repository directory, the same way
// any other git-invoked helper would: by asking git itself, since
// the helper is always run with its working directory inside the
// repository it was configured against. Failing this is not a
// condition any caller can recover from, so it panics via Ck rather
// than threading an error back up through main's dispatch switch.
func gitDir() (dir string, err error) {
	defer Return(&err)
	g := gitshell.New("")
	out, err := g.Run("rev-parse", "--absolute-git-dir")
	Ck(err)
	dir = strings.TrimSpace(string(out))
	Assert(dir != "")
	return dir, nil
}

// helper adapts the line protocol onto one Engine.
type helper struct {
	engine *engine.Engine
	out    *os.File
}

func (h *helper) println(format string, args ...interface{}) {
	fmt.Fprintf(h.out, format+"\n", args...)
}

func (h *helper) capabilities() {
	h.println("fetch")
	h.println("push")
	h.println("option")
	h.println("")
}

func (h *helper) option(rest string) {
	// No option this helper exposes changes behavior per-invocation;
	// every knob is read once from git config by config.Resolve.
	// Reporting "ok" for anything git offers keeps fetch/push/clone
	// from aborting over an unsupported option they don't actually
	// need honored.
	_ = rest
	h.println("ok")
}

func (h *helper) list() error {
	refs, err := h.engine.ListRefs()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.println("%s %s", refs[name], name)
	}
	h.println("")
	return nil
}

// fetchBatch consumes every "fetch <sha1> <refname>" line of one
// batch (git may request several objects per fetch, but this helper
// always brings the whole namespace down in one Engine.Fetch call, so
// individual requested objects never need to be distinguished).
func (h *helper) fetchBatch(scanner *bufio.Scanner, first string) error {
	line := first
	for line != "" {
		if !scanner.Scan() {
			break
		}
		line = scanner.Text()
	}
	if _, err := h.engine.Fetch(); err != nil {
		return err
	}
	h.println("")
	return nil
}

func (h *helper) pushBatch(scanner *bufio.Scanner, first string) error {
	var updates []engine.RefUpdate
	line := first
	for {
		u, ok := parsePushLine(line)
		if ok {
			updates = append(updates, u)
		}
		if !scanner.Scan() {
			break
		}
		line = scanner.Text()
		if line == "" {
			break
		}
	}

	results, err := h.engine.Push(updates)
	if err != nil {
		var nff *recursiveremote.UpstreamNonFastForwardError
		if asUpstreamNFF(err, &nff) {
			for _, u := range updates {
				h.println("error %s upstream rejected fast-forward push, retry later", u.Dst)
			}
			h.println("")
			return nil
		}
		return err
	}
	for _, u := range updates {
		if rejectErr, ok := results[u.Dst]; ok && rejectErr != nil {
			h.println("error %s %s", u.Dst, rejectErr)
		} else {
			h.println("ok %s", u.Dst)
		}
	}
	h.println("")
	return nil
}

// parsePushLine decodes one "push [+]<src>:<dst>" command line. A
// deletion is written as "push :<dst>".
func parsePushLine(line string) (engine.RefUpdate, bool) {
	spec := strings.TrimPrefix(line, "push ")
	if spec == line {
		return engine.RefUpdate{}, false
	}
	force := strings.HasPrefix(spec, "+")
	spec = strings.TrimPrefix(spec, "+")
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return engine.RefUpdate{}, false
	}
	return engine.RefUpdate{Src: parts[0], Dst: parts[1], Force: force}, true
}

func asUpstreamNFF(err error, target **recursiveremote.UpstreamNonFastForwardError) bool {
	e, ok := err.(*recursiveremote.UpstreamNonFastForwardError)
	if ok {
		*target = e
	}
	return ok
}
