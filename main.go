package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"quasar/internal/driver"
)

func main() {
	app := &cli.App{
		Name:  "quasar",
		Usage: "compile QSL quantum programs to OpenQASM 3 and simulate them",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			transpileCommand(),
			runCommand(),
			irCommand(),
			pipelineCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sourceArg(c *cli.Context) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one source file argument")
	}
	return c.Args().First(), nil
}

func transpileCommand() *cli.Command {
	return &cli.Command{
		Name:      "transpile",
		Usage:     "transpile a .qsl program to OpenQASM 3",
		ArgsUsage: "<src>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "-", Usage: "output file, - for stdout"},
			&cli.IntFlag{Name: "ancilla-budget", Value: 9999, Usage: "ancilla qubits available for decomposition"},
			&cli.BoolFlag{Name: "no-ccx-decompose", Usage: "emit native ccx instead of the 7-T decomposition"},
			&cli.StringFlag{Name: "coupling", Usage: "coupling map: inline [[0,1],[1,2]] or a file path"},
			&cli.BoolFlag{Name: "ir", Usage: "lower through the IR and pass pipeline before emission"},
		},
		Action: func(c *cli.Context) error {
			src, err := sourceArg(c)
			if err != nil {
				return err
			}
			res, err := driver.Transpile(driver.Options{
				Path:          src,
				UseIR:         c.Bool("ir"),
				CouplingSpec:  c.String("coupling"),
				AncillaBudget: c.Int("ancilla-budget"),
				DecomposeCCX:  !c.Bool("no-ccx-decompose"),
				Debug:         c.Bool("debug"),
			})
			if err != nil {
				return err
			}
			out := c.String("out")
			if out == "-" {
				fmt.Print(res.Assembly)
				if res.Assembly != "" {
					fmt.Println()
				}
				return nil
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out, []byte(res.Assembly+"\n"), 0o644); err != nil {
				return err
			}
			fmt.Printf("[ok] wrote %s\n", out)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a program on the reference simulator",
		ArgsUsage: "<src>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "shots", Usage: "override the MEASURE shot count"},
		},
		Action: func(c *cli.Context) error {
			src, err := sourceArg(c)
			if err != nil {
				return err
			}
			counts, err := driver.Run(driver.Options{
				Path:  src,
				Shots: c.Int("shots"),
				Debug: c.Bool("debug"),
			})
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s: %d\n", k, counts[k])
			}
			return nil
		},
	}
}

func irCommand() *cli.Command {
	return &cli.Command{
		Name:      "ir",
		Usage:     "dump the lowered IR module",
		ArgsUsage: "<src>",
		Action: func(c *cli.Context) error {
			src, err := sourceArg(c)
			if err != nil {
				return err
			}
			dump, err := driver.DumpIR(driver.Options{Path: src, Debug: c.Bool("debug")})
			if err != nil {
				return err
			}
			fmt.Print(dump)
			return nil
		},
	}
}

func pipelineCommand() *cli.Command {
	return &cli.Command{
		Name:      "pipeline",
		Usage:     "run the pass pipeline and report the log and metrics",
		ArgsUsage: "<src>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "coupling", Usage: "coupling map: inline [[0,1],[1,2]] or a file path"},
		},
		Action: func(c *cli.Context) error {
			src, err := sourceArg(c)
			if err != nil {
				return err
			}
			m, ctx, err := driver.Pipeline(driver.Options{
				Path:         src,
				CouplingSpec: c.String("coupling"),
				Debug:        c.Bool("debug"),
			})
			if err != nil {
				return err
			}

			fmt.Println("== pass log ==")
			for _, line := range ctx.Log {
				fmt.Println("  " + line)
			}

			fmt.Println("== metrics ==")
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Metric", "Value"})
			table.Append([]string{"depth", fmt.Sprintf("%d", m.Meta.Depth)})
			table.Append([]string{"two-qubit depth", fmt.Sprintf("%d", m.Meta.TwoQDepth)})

			ops := make([]string, 0, len(m.Meta.Counts))
			for op := range m.Meta.Counts {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				table.Append([]string{op, fmt.Sprintf("%d", m.Meta.Counts[op])})
			}
			table.Render()

			if len(m.Meta.Verify) > 0 {
				fmt.Println("== verifier notes ==")
				for _, v := range m.Meta.Verify {
					fmt.Println("  " + v)
				}
			}
			return nil
		},
	}
}
