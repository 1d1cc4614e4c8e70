package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pdbfmt/pdbfmt/builder"
	"github.com/pdbfmt/pdbfmt/pdbi"
	"github.com/pdbfmt/pdbfmt/symbols"
	"github.com/pdbfmt/pdbfmt/tpi"
	"github.com/spf13/cobra"
)

var buildOutputPath string

var buildCmd = &cobra.Command{
	Use:   "build <manifest.json>",
	Short: "Build a normalized MSF PDB from a JSON manifest",
	Long: `Build reads a JSON manifest describing a PDB's signature, modules,
and symbols, and writes a fully normalized MSF container to --out.

Manifest shape:

  {
    "signature": 1,
    "age": 1,
    "guid": "00112233445566778899aabbccddeeff",
    "machine": 34404,
    "modules": [
      {
        "name": "a.obj",
        "obj_file": "a.obj",
        "public_symbols": [
          {"name": "main", "segment": 1, "offset": 0, "flags": 2}
        ],
        "functions": [
          {"name": "main", "segment": 1, "offset": 0, "code_size": 16, "type": 4096}
        ],
        "data_symbols": [
          {"name": "g_counter", "segment": 2, "offset": 0, "type": 116, "global": true}
        ]
      }
    ]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutputPath, "out", "O", "out.pdb", "path to write the built PDB")
}

type manifest struct {
	Signature uint32           `json:"signature"`
	Age       uint32           `json:"age"`
	GUID      string           `json:"guid"`
	Machine   uint16           `json:"machine"`
	Modules   []manifestModule `json:"modules"`
}

type manifestModule struct {
	Name          string                  `json:"name"`
	ObjFile       string                  `json:"obj_file"`
	PublicSymbols []manifestPublicSymbol  `json:"public_symbols"`
	Functions     []manifestFunctionSymbol `json:"functions"`
	DataSymbols   []manifestDataSymbol    `json:"data_symbols"`
}

type manifestPublicSymbol struct {
	Name    string `json:"name"`
	Segment uint16 `json:"segment"`
	Offset  uint32 `json:"offset"`
	Flags   uint32 `json:"flags"`
}

type manifestFunctionSymbol struct {
	Name     string `json:"name"`
	Segment  uint16 `json:"segment"`
	Offset   uint32 `json:"offset"`
	CodeSize uint32 `json:"code_size"`
	Type     uint32 `json:"type"`
	Global   bool   `json:"global"`
}

type manifestDataSymbol struct {
	Name    string `json:"name"`
	Segment uint16 `json:"segment"`
	Offset  uint32 `json:"offset"`
	Type    uint32 `json:"type"`
	Global  bool   `json:"global"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	var guid pdbi.GUID
	if m.GUID != "" {
		decoded, err := hex.DecodeString(m.GUID)
		if err != nil || len(decoded) != 16 {
			return fmt.Errorf("guid must be a 32-character hex string")
		}
		copy(guid[:], decoded)
	}

	in := builder.Input{
		Signature: m.Signature,
		Age:       m.Age,
		GUID:      guid,
		Machine:   m.Machine,
	}

	for _, mod := range m.Modules {
		built := builder.Module{
			ModuleName:  mod.Name,
			ObjFileName: mod.ObjFile,
		}

		for _, ps := range mod.PublicSymbols {
			payload := symbols.EncodePublicSym32(&symbols.PublicSym32{
				Flags:   symbols.PublicSymFlags(ps.Flags),
				Offset:  ps.Offset,
				Segment: ps.Segment,
				Name:    ps.Name,
			})
			built.Symbols = append(built.Symbols, builder.Symbol{Kind: symbols.S_PUB32, Payload: payload})
		}

		for _, fn := range mod.Functions {
			kind := symbols.S_LPROC32
			if fn.Global {
				kind = symbols.S_GPROC32
			}
			payload := symbols.EncodeProcSym(&symbols.ProcSym{
				CodeSize:     fn.CodeSize,
				FunctionType: tpi.TypeIndex(fn.Type),
				CodeOffset:   fn.Offset,
				Segment:      fn.Segment,
				Name:         fn.Name,
			})
			built.Symbols = append(built.Symbols, builder.Symbol{Kind: kind, Payload: payload})
		}

		for _, d := range mod.DataSymbols {
			kind := symbols.S_LDATA32
			if d.Global {
				kind = symbols.S_GDATA32
			}
			payload := symbols.EncodeDataSym(&symbols.DataSym{
				Type:    tpi.TypeIndex(d.Type),
				Offset:  d.Offset,
				Segment: d.Segment,
				Name:    d.Name,
			})
			built.Symbols = append(built.Symbols, builder.Symbol{Kind: kind, Payload: payload})
		}

		in.Modules = append(in.Modules, built)
	}

	out, err := builder.Build(in)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	if err := os.WriteFile(buildOutputPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	fmt.Fprintf(output, "Wrote %d bytes to %s\n", len(out), buildOutputPath)
	return nil
}
