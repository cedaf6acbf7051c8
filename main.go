package main

import (
	"github.com/nodekeeper/nodekeeper/cmd/nodekeeper"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "nodekeeper"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func main() {
	nodekeeper.Run(progname, version, commit)
}
