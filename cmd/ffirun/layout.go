package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/transcoder"
)

var layoutCmd = &cobra.Command{
	Use:   "layout [flags] type",
	Short: "Print the native layout of a type document",
	Long: `Layout prints size, alignment and field offsets of a type document,
given inline or, with --file, as a path.

  ffirun layout '{x: i32, y: f64}'`,
	Args: cobra.ExactArgs(1),
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().BoolP("file", "f", false, "read the type document from a file")
}

type fieldDoc struct {
	Name   string  `json:"name" yaml:"name" msgpack:"name"`
	Type   string  `json:"type" yaml:"type" msgpack:"type"`
	Offset uintptr `json:"offset" yaml:"offset" msgpack:"offset"`
}

type layoutDoc struct {
	Type     string     `json:"type" yaml:"type" msgpack:"type"`
	Size     uintptr    `json:"size" yaml:"size" msgpack:"size"`
	Align    uintptr    `json:"align" yaml:"align" msgpack:"align"`
	Stride   uintptr    `json:"stride,omitempty" yaml:"stride,omitempty" msgpack:"stride,omitempty"`
	Slot     uintptr    `json:"slot" yaml:"slot" msgpack:"slot"`
	Fields   []fieldDoc `json:"fields,omitempty" yaml:"fields,omitempty" msgpack:"fields,omitempty"`
	Indirect bool       `json:"indirect" yaml:"indirect" msgpack:"indirect"`
}

func runLayout(cmd *cobra.Command, args []string) error {
	src := []byte(args[0])
	if fromFile, _ := cmd.Flags().GetBool("file"); fromFile {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		src = data
	}
	t, err := descriptor.ParseYAML(src)
	if err != nil {
		return err
	}
	doc, err := describeLayout(transcoder.NewLayoutCalculator(), t)
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	color.NoColor = !useColor(cmd, os.Stdout)
	return writeLayout(os.Stdout, format, doc)
}

func describeLayout(lc *transcoder.LayoutCalculator, t descriptor.Type) (layoutDoc, error) {
	slot, err := lc.Calculate(t)
	if err != nil {
		return layoutDoc{}, err
	}
	doc := layoutDoc{Type: t.String(), Slot: slot.Size}

	block := slot
	switch v := t.(type) {
	case *descriptor.Struct:
		doc.Indirect = v.Storage == descriptor.Indirect
		block, err = lc.Block(t)
	case *descriptor.Array:
		doc.Indirect = v.Storage == descriptor.Indirect
		block, err = lc.Block(t)
	case *descriptor.StructArray:
		doc.Indirect = v.Storage == descriptor.Indirect
		block, err = lc.Block(t)
	}
	if err != nil {
		return layoutDoc{}, err
	}
	doc.Size, doc.Align, doc.Stride = block.Size, block.Align, block.Stride

	if s, ok := t.(*descriptor.Struct); ok {
		for i, f := range s.Fields {
			doc.Fields = append(doc.Fields, fieldDoc{Name: f.Name, Type: f.Type.String(), Offset: block.Offsets[i]})
		}
	}
	return doc, nil
}

func writeLayout(w io.Writer, format string, doc layoutDoc) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	case "msgpack":
		return msgpack.NewEncoder(w).Encode(doc)
	}

	fmt.Fprintf(w, "%s\n", doc.Type)
	fmt.Fprintf(w, "  %s %s  %s %s  %s %s\n",
		keyColor.Sprint("size"), numberColor.Sprint(doc.Size),
		keyColor.Sprint("align"), numberColor.Sprint(doc.Align),
		keyColor.Sprint("slot"), numberColor.Sprint(doc.Slot))
	if doc.Stride != 0 {
		fmt.Fprintf(w, "  %s %s\n", keyColor.Sprint("stride"), numberColor.Sprint(doc.Stride))
	}
	for _, f := range doc.Fields {
		fmt.Fprintf(w, "  %4s  %-16s %s\n", numberColor.Sprint(f.Offset), keyColor.Sprint(f.Name), f.Type)
	}
	return nil
}
