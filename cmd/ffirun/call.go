package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/ffi-runtime/runtime"
)

var callCmd = &cobra.Command{
	Use:   "call [flags] library function [args...]",
	Short: "Call one native function",
	Long: `Call opens library (unless the configuration already did) and calls function.
Parameter and return types are descriptor documents, for example
--params '[cstring, i32]' --return i64. Functions defined in the
configuration file need no type flags.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().String("path", "", "shared library path when the library is not configured")
	callCmd.Flags().String("params", "", "parameter types as a YAML list")
	callCmd.Flags().String("return", "", "return type (default void)")
	callCmd.Flags().Int("fixed", -1, "number of fixed parameters of a variadic function")
	callCmd.Flags().Bool("errno", false, "capture errno after the call")
	callCmd.Flags().Bool("free-result", false, "free memory the result points to")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, _, closeFn, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	library, function := args[0], args[1]
	if _, ok := rt.Library(library); !ok {
		path, _ := cmd.Flags().GetString("path")
		if _, err := rt.Open(library, path); err != nil {
			return err
		}
	}

	sig, err := callSignature(cmd, rt, library, function)
	if err != nil {
		return err
	}
	values, err := parseArgs(sig, args[2:])
	if err != nil {
		return err
	}

	errno, _ := cmd.Flags().GetBool("errno")
	freeResult, _ := cmd.Flags().GetBool("free-result")
	res, err := rt.Call(ctx, runtime.CallRequest{
		Library:   library,
		Func:      function,
		Signature: sig,
		Args:      values,
		CallOptions: runtime.CallOptions{
			Errno:            errno,
			FreeResultMemory: freeResult,
		},
	})
	if err != nil {
		return err
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	return writeResults(os.Stdout, format, useColor(cmd, os.Stdout), []resultDoc{newResultDoc(res, nil)})
}

// callSignature prefers the type flags and falls back to a configured
// definition.
func callSignature(cmd *cobra.Command, rt *runtime.Runtime, library, function string) (runtime.Signature, error) {
	params, _ := cmd.Flags().GetString("params")
	ret, _ := cmd.Flags().GetString("return")
	fixed, _ := cmd.Flags().GetInt("fixed")
	if params == "" && ret == "" && fixed < 0 {
		if fn, ok := rt.Func(library, function); ok {
			return fn.Signature(), nil
		}
	}
	return parseSignature(params, ret, fixed)
}
