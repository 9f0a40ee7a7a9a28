package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/frobware/go-p4bridge/ofp"
)

// CheckFlowCmd parses flows the way the reconciler does and prints
// the resulting flow mods.
type CheckFlowCmd struct {
	Flows []string `arg:"" name:"flow" help:"Flow in ovs-ofctl syntax, e.g. 'table=0,priority=1,actions=drop'."`
}

// Run executes the check-flow command.
func (c *CheckFlowCmd) Run(cli *CLI) error {
	return CheckFlows(os.Stdout, c.Flows)
}

// CheckFlows writes the decoded form and the wire encoding of each
// flow to w. It stops at the first flow that does not parse.
func CheckFlows(w io.Writer, flows []string) error {
	for _, s := range flows {
		fm, err := ofp.ParseFlow(s)
		if err != nil {
			return err
		}
		data, err := fm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("flow %q: %w", s, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n%s\n", fm, hex.EncodeToString(data)); err != nil {
			return err
		}
	}
	return nil
}
