package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func rulesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the active rule tables as YAML, boundaries in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := g.loadRules()
			if err != nil {
				return err
			}
			// compile to report invalid patterns before printing
			opts, err := rf.EngineOptions(zerolog.Nop())
			if err != nil {
				return err
			}
			rf.Segments = opts.Segments.Rules()
			data, err := rf.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
