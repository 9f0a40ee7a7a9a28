package cli

import (
	"fmt"

	"github.com/frobware/go-p4bridge/pipeline"
)

// ShowPipelineCmd prints the table schemas derived from a P4Info file.
type ShowPipelineCmd struct {
	P4Info string `arg:"" name:"p4info" help:"P4Info file (text or binary protobuf)." type:"existingfile"`
}

// Run executes the show-pipeline command.
func (c *ShowPipelineCmd) Run(cli *CLI) error {
	p, err := pipeline.Load(c.P4Info)
	if err != nil {
		return err
	}
	fmt.Print(p.Describe())
	return nil
}
