package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"order-lifecycle-service/internal/statemachine"
)

type transitionTable struct {
	Kind   string       `yaml:"kind" json:"kind"`
	States []stateEdges `yaml:"states" json:"states"`
}

type stateEdges struct {
	Name     string   `yaml:"name" json:"name"`
	Terminal bool     `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Targets  []string `yaml:"targets,flow" json:"targets"`
}

func transitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transitions [kind]",
		Short: "Print the legal state transitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := statemachine.Kinds
			if len(args) == 1 {
				kinds = []statemachine.Kind{statemachine.Kind(args[0])}
			}
			output, _ := cmd.Flags().GetString("output")
			return writeTransitions(cmd.OutOrStdout(), kinds, output)
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, yaml, json)")
	return cmd
}

func buildTables(kinds []statemachine.Kind) ([]transitionTable, error) {
	out := make([]transitionTable, 0, len(kinds))
	for _, k := range kinds {
		states := statemachine.States(k)
		if len(states) == 0 {
			return nil, fmt.Errorf("unknown kind %q", k)
		}
		t := transitionTable{Kind: string(k)}
		for _, s := range states {
			t.States = append(t.States, stateEdges{
				Name:     s,
				Terminal: statemachine.IsTerminal(k, s),
				Targets:  statemachine.Targets(k, s),
			})
		}
		out = append(out, t)
	}
	return out, nil
}

func writeTransitions(w io.Writer, kinds []statemachine.Kind, format string) error {
	tables, err := buildTables(kinds)
	if err != nil {
		return err
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tables); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	case "text":
		for _, t := range tables {
			fmt.Fprintln(w, t.Kind)
			for _, s := range t.States {
				if s.Terminal {
					fmt.Fprintf(w, "  %s (terminal)\n", s.Name)
					continue
				}
				fmt.Fprintf(w, "  %s -> %s\n", s.Name, strings.Join(s.Targets, ", "))
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
