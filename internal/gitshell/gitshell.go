/*

Package gitshell is the one place in this module that knows how to
invoke the git binary. The storage and synchronization engine never
links against a git plumbing library: every read or write of the
upstream branch, the scratch mirrors, or the caller's own repository
goes through a git subprocess, the same way this codebase's ancestor
shells out to an external tool rather than reimplementing its
protocol.

*/
package gitshell

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stevegt/debugpipe"
)

// passthroughVars are forwarded from the parent environment into
// every git subprocess so that SSH-based transports keep working
// even though the rest of the environment is cleared.
var passthroughVars = []string{
	"SSH_AGENT_PID",
	"SSH_AUTH_SOCK",
	"GIT_SSH_COMMAND",
	"GIT_SSH",
	"GIT_ASKPASS",
}

// Git invokes the git binary against one repository.
type Git struct {
	// Dir is passed to git as --git-dir.
	Dir string
	// Debug, when true, tees the stdout of Start-ed subprocesses through debugpipe so a
	// DEBUG=1 run can be inspected interactively.
	Debug bool
}

// New returns a Git bound to the repository at dir.
func New(dir string) *Git {
	return &Git{Dir: dir, Debug: os.Getenv("DEBUG") != ""}
}

func baseEnviron() []string {
	env := []string{
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_COMMITTER_NAME=recursive-remote",
		"GIT_COMMITTER_EMAIL=recursive-remote@localhost",
		"GIT_AUTHOR_NAME=recursive-remote",
		"GIT_AUTHOR_EMAIL=recursive-remote@localhost",
	}
	if home, ok := os.LookupEnv("HOME"); ok {
		env = append(env, "HOME="+home)
	}
	if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	for _, k := range passthroughVars {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// Error reports a failed git invocation, carrying the captured
// stderr so callers and logs can show the user what git said.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

func (g *Git) command(args ...string) *exec.Cmd {
	full := make([]string, 0, len(args)+2)
	if g.Dir != "" {
		full = append(full, "--git-dir", g.Dir)
	}
	full = append(full, args...)
	cmd := exec.Command("git", full...)
	cmd.Env = baseEnviron()
	return cmd
}

// tee interposes a debugpipe so the bytes flowing between this
// process and a git subprocess can be watched with DEBUG=1, without
// changing behavior when debugging is off.
func (g *Git) tee(name string, r io.Reader) io.Reader {
	if !g.Debug {
		return r
	}
	pr, pw := debugpipe.Pipe()
	go func() {
		log.Debugf("gitshell: tee %s starting", name)
		io.Copy(pw, r)
		pw.Close()
	}()
	return pr
}

// Run executes git with args and no stdin, returning stdout. On
// failure the returned error is a *Error carrying stderr.
func (g *Git) Run(args ...string) ([]byte, error) {
	return g.RunWithInput(nil, args...)
}

// RunWithInput executes git with args, feeding stdin to it, and
// returns stdout.
func (g *Git) RunWithInput(stdin []byte, args ...string) ([]byte, error) {
	cmd := g.command(args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debugf("gitshell: running git %s", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// Lines runs git and splits stdout on newlines, dropping the final
// empty element produced by a trailing newline.
func (g *Git) Lines(args ...string) ([]string, error) {
	out, err := g.Run(args...)
	if err != nil {
		return nil, err
	}
	s := strings.TrimRight(string(out), "\n")
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, "\n"), nil
}

// Piped is a started subprocess whose stdin and stdout the caller
// streams directly, for the two commands in this module that move
// pack data too large to buffer: pack-objects and index-pack.
type Piped struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	stderr *bytes.Buffer
	args   []string
}

// Start launches git with args, wiring stdin/stdout for streaming.
// The caller must read Stdout to completion (or close it) and then
// call Wait.
func (g *Git) Start(args ...string) (*Piped, error) {
	cmd := g.command(args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("gitshell: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("gitshell: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Debugf("gitshell: starting git %s", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("gitshell: start git %s: %w", strings.Join(args, " "), err)
	}
	p := &Piped{cmd: cmd, Stdin: stdin, stderr: &stderr, args: args}
	if g.Debug {
		p.Stdout = io.NopCloser(g.tee(args[0], stdout))
	} else {
		p.Stdout = stdout
	}
	return p, nil
}

// Wait waits for the subprocess to exit, returning a *Error on
// non-zero exit.
func (p *Piped) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return &Error{Args: p.args, Stderr: p.stderr.String(), Err: err}
	}
	return nil
}

// RevParse resolves a single revision expression to its full object
// id, or ("", nil) if it does not exist.
func (g *Git) RevParse(rev string) (string, error) {
	out, err := g.Run("rev-parse", "--verify", "--quiet", rev)
	if err != nil {
		var gerr *Error
		if errorsAs(err, &gerr) && gerr.Err != nil {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// UpdateRef sets ref to point at oid, atomically creating it if
// absent.
func (g *Git) UpdateRef(ref, oid string) error {
	_, err := g.Run("update-ref", ref, oid)
	return err
}

// DeleteRef removes ref if present.
func (g *Git) DeleteRef(ref string) error {
	_, err := g.Run("update-ref", "-d", ref)
	return err
}

// ForEachRefGlob lists "<oid> <refname>" pairs matching glob.
func (g *Git) ForEachRefGlob(glob string) (map[string]string, error) {
	lines, err := g.Lines("for-each-ref", "--format=%(objectname) %(refname)", glob)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(lines))
	for _, line := range lines {
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		out[fields[1]] = fields[0]
	}
	return out, nil
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to)
// descendant.
func (g *Git) IsAncestor(ancestor, descendant string) (bool, error) {
	cmd := g.command("merge-base", "--is-ancestor", ancestor, descendant)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, &Error{Args: cmd.Args, Stderr: stderr.String(), Err: err}
}

// ObjectKind returns the kind of object ("commit", "tree", "blob",
// "tag"), or "" if oid does not exist in this repository.
func (g *Git) ObjectKind(oid string) (string, error) {
	out, err := g.Run("cat-file", "-t", oid)
	if err != nil {
		var gerr *Error
		if errorsAs(err, &gerr) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CatFile returns the raw content of oid.
func (g *Git) CatFile(oid string) ([]byte, error) {
	return g.Run("cat-file", "-p", oid)
}

// HashObject stores data as a loose blob and returns its object id.
// If write is false the object id is computed but not stored.
func (g *Git) HashObject(data []byte, write bool) (string, error) {
	args := []string{"hash-object", "--stdin"}
	if write {
		args = append(args, "-w")
	}
	out, err := g.RunWithInput(data, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// InitBare creates a bare repository at g.Dir if one does not already
// exist.
func (g *Git) InitBare() error {
	if _, err := os.Stat(g.Dir); err == nil {
		return nil
	}
	cmd := exec.Command("git", "init", "--bare", "--quiet", g.Dir)
	cmd.Env = baseEnviron()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &Error{Args: cmd.Args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// GCAuto runs "git gc --auto" against g.Dir.
func (g *Git) GCAuto() error {
	_, err := g.Run("gc", "--auto")
	return err
}

// FetchRefspecs fetches the given refspecs from remote into g.Dir.
func (g *Git) FetchRefspecs(remote string, refspecs ...string) error {
	args := append([]string{"fetch", remote}, refspecs...)
	_, err := g.Run(args...)
	return err
}

// PushRefspecs pushes the given refspecs to remote from g.Dir.
func (g *Git) PushRefspecs(remote string, refspecs ...string) error {
	args := append([]string{"push", remote}, refspecs...)
	_, err := g.Run(args...)
	return err
}

// CommitParents returns the parent object ids of commit, in the order
// git itself records them, or nil if commit is a root commit.
func (g *Git) CommitParents(commit string) ([]string, error) {
	out, err := g.Run("log", "--pretty=%P", "-n1", commit)
	if err != nil {
		return nil, err
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, " "), nil
}

// IsSymbolicRef reports whether ref is a symbolic ref (e.g. HEAD)
// rather than a direct ref, so the push-semantics gate can refuse to
// carry one across the wire.
func (g *Git) IsSymbolicRef(ref string) (bool, error) {
	_, err := g.Run("symbolic-ref", "-q", ref)
	if err != nil {
		var gerr *Error
		if errorsAs(err, &gerr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LsRemote resolves refname on remote without fetching, returning its
// object id, or ("", nil) if the ref does not exist there.
func (g *Git) LsRemote(remote, refname string) (string, error) {
	lines, err := g.Lines("ls-remote", remote, refname)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) == 2 && fields[1] == refname {
			return fields[0], nil
		}
	}
	return "", nil
}

func errorsAs(err error, target **Error) bool {
	gerr, ok := err.(*Error)
	if ok {
		*target = gerr
	}
	return ok
}
