/*

Command recursive-remote-admin is the operator-facing companion to
git-remote-recursive: it prints configuration guidance,
pre-provisions file-backed encryption keys out of band, and
re-indexes every recorded pack for a caller repository
(reinsert-all-packs).

*/
package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/recursive-remote/config"
	"github.com/t7a/recursive-remote/engine"
)

type opts struct {
	Guidance         bool
	Keygen           bool
	ReinsertAllPacks bool `docopt:"reinsert-all-packs"`
	Path             string
	Repo             string
	Remote           string
	Url              string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	usage := `recursive-remote-admin

Usage:
  recursive-remote-admin guidance
  recursive-remote-admin keygen <path>
  recursive-remote-admin reinsert-all-packs <repo> <remote> <url>

Options:
  -h --help     Show this screen.
  --version     Show version.

reinsert-all-packs is the operator recovery switch for a caller
repository that has pruned objects this remote had already recorded
as fetched: it re-walks the full StateRecord history instead of
stopping at the stored fetch basis, and re-indexes every pack it
finds along the way. It is never invoked automatically.
`
	parser := &docopt.Parser{
		OptionsFirst: false,
		HelpHandler: func(err error, usage string) {
			if err != nil {
				fmt.Fprintln(os.Stderr, usage)
				return
			}
			docopt.PrintHelpAndExit(nil, usage)
		},
	}
	o, err := parser.ParseArgs(usage, args, "0.0")
	if err != nil {
		log.Error(err)
		return 22
	}
	var parsed opts
	if err := o.Bind(&parsed); err != nil {
		log.Error(err)
		return 22
	}

	switch {
	case parsed.Guidance:
		config.PrintGuidance(func(format string, a ...interface{}) {
			fmt.Printf(format+"\n", a...)
		})
		return 0
	case parsed.Keygen:
		if _, err := config.GenerateKeyFile(parsed.Path); err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(parsed.Path)
		return 0
	case parsed.ReinsertAllPacks:
		cfg, err := config.Resolve(parsed.Repo, parsed.Remote, parsed.Url)
		if err != nil {
			log.Error(err)
			return 42
		}
		e, err := engine.Open(cfg, parsed.Repo+"/recursive_remote", parsed.Repo)
		if err != nil {
			log.Error(err)
			return 42
		}
		defer e.Close()
		res, err := e.ReinsertAllPacks()
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Printf("reinserted %d packs, %d refs now tracked\n", res.PacksRead, len(res.Refs))
		return 0
	default:
		fmt.Print(usage)
		return 1
	}
}
