package main

import (
	"os"

	"github.com/hcikit/hcilog/cmd"
	"github.com/hcikit/hcilog/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=... -X main.commit=...".
var (
	version   string
	buildDate string
	commit    string
)

func main() {
	build := buildinfo.NewContext(version, buildDate, commit)
	if err := cmd.RootCommand(build).Execute(); err != nil {
		os.Exit(1)
	}
}
