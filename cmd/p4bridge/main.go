// p4bridge translates P4Runtime writes into OpenFlow flows.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/frobware/go-p4bridge/cmd/p4bridge/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.KongOptions()...)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
