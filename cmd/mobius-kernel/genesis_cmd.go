package main

import (
	"flag"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/kaizencycle/Mobius-Systems/pkg/config"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
)

// runGenesisCmd prints the built-in genesis file, or validates one.
//
// Exit codes:
//
//	0 = printed, or the file is valid
//	1 = the file is invalid
//	2 = usage error
func runGenesisCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("genesis", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var check string
	cmd.StringVar(&check, "check", "", "Validate this genesis file instead of printing the default")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if check == "" {
		out, err := yaml.Marshal(config.DefaultGenesis())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = stdout.Write(out)
		return 0
	}

	g, err := config.LoadGenesis(check)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params, _ := g.Params()
	alloc, _ := g.AllocationMap()
	_, _ = fmt.Fprintf(stdout, "genesis OK: policy %s (%s), supply %s credits, %d allocations\n",
		g.Policy.Version, g.Policy.Hash()[:12], params.GenesisSupply.Shift(-credit.Decimals).String(), len(alloc))
	return 0
}
