package main

import (
	"fmt"
	"os"

	"github.com/pdbfmt/pdbfmt/msfz"
	"github.com/pdbfmt/pdbfmt/pdb"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <pdb-file>",
	Short: "Check a PDB container and catalogue streams for internal consistency",
	Long: `Verify opens a PDB file, detects whether it is an MSF or MSFZ
container, and walks every catalogue stream it knows how to parse
(PDB Information, TPI, IPI, DBI, modules, GSI, PSI). It reports the
first error encountered in each stream rather than stopping at the
first failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	magic := make([]byte, msfz.MagicSize)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return fmt.Errorf("failed to read container header: %w", err)
	}

	if string(magic) == msfz.Magic {
		return verifyMSFZ(f, info.Size(), path)
	}
	return verifyMSF(path)
}

func verifyMSFZ(r *os.File, size int64, path string) error {
	reader, err := msfz.Open(r, size)
	if err != nil {
		return fmt.Errorf("msfz: container validation failed: %w", err)
	}

	fmt.Fprintf(output, "Container: MSFZ\n")
	fmt.Fprintf(output, "Streams: %d\n", reader.NumStreams())

	failures := 0
	for i := uint32(0); i < reader.NumStreams(); i++ {
		exists, err := reader.StreamExists(i)
		if err != nil || !exists {
			continue
		}
		if _, err := reader.ReadStream(i); err != nil {
			fmt.Fprintf(output, "  stream %d: %v\n", i, err)
			failures++
		}
	}

	if failures > 0 {
		fmt.Fprintf(output, "\n%d stream(s) failed to decode\n", failures)
		return fmt.Errorf("verify: %d stream(s) failed", failures)
	}
	fmt.Fprintf(output, "\nOK: %s\n", path)
	return nil
}

func verifyMSF(path string) error {
	f, err := pdb.Open(path)
	if err != nil {
		return fmt.Errorf("msf: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(output, "Container: MSF\n")

	var problems []string

	if _, err := f.Info(); err != nil {
		problems = append(problems, fmt.Sprintf("PDB Information stream: %v", err))
	}

	if types, err := f.Types(); err != nil {
		problems = append(problems, fmt.Sprintf("TPI stream: %v", err))
	} else {
		count := 0
		for range types.All() {
			count++
		}
		fmt.Fprintf(output, "Types: %d\n", count)
	}

	modules, err := f.Modules()
	if err != nil {
		problems = append(problems, fmt.Sprintf("DBI/modules: %v", err))
	} else {
		fmt.Fprintf(output, "Modules: %d\n", len(modules))
		for _, mod := range modules {
			for range mod.Symbols() {
			}
		}
	}

	symbols, err := f.Symbols()
	if err != nil {
		problems = append(problems, fmt.Sprintf("symbol table: %v", err))
	} else {
		fmt.Fprintf(output, "Public symbols: %d\n", symbols.PublicCount())
	}

	if len(problems) > 0 {
		fmt.Fprintf(output, "\nProblems found:\n")
		for _, p := range problems {
			fmt.Fprintf(output, "  - %s\n", p)
		}
		return fmt.Errorf("verify: %d problem(s) found", len(problems))
	}

	fmt.Fprintf(output, "\nOK: %s\n", path)
	return nil
}
