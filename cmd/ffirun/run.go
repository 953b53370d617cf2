package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-runtime/descriptor"
	"github.com/wippyai/ffi-runtime/runtime"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] batch.yaml",
	Short: "Run a batch of calls described in YAML",
	Long: `Run opens the libraries a batch file lists and makes its calls
concurrently, bounded by calls.concurrency. Results are printed in order.

  libraries:
    - name: libc
      path: libc.so.6
  calls:
    - library: libc
      func: strlen
      params: [cstring]
      return: u64
      args: [hello]`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().Bool("keep-going", false, "run every call and report failures per call")
}

type batchFile struct {
	Libraries []struct {
		Name string `yaml:"name"`
		Path string `yaml:"path"`
	} `yaml:"libraries"`
	Calls []batchCall `yaml:"calls"`
}

// batchCall keeps types and arguments as nodes so struct documents keep
// their field order.
type batchCall struct {
	Library    string    `yaml:"library"`
	Func       string    `yaml:"func"`
	Params     yaml.Node `yaml:"params"`
	Return     yaml.Node `yaml:"return"`
	Args       yaml.Node `yaml:"args"`
	Fixed      *int      `yaml:"fixed"`
	Errno      bool      `yaml:"errno"`
	FreeResult bool      `yaml:"free_result"`
}

func (c batchCall) request() (runtime.CallRequest, error) {
	params, err := nodeList(&c.Params)
	if err != nil {
		return runtime.CallRequest{}, err
	}
	var ret any
	if c.Return.Kind != 0 {
		if ret, err = descriptor.FromNode(&c.Return); err != nil {
			return runtime.CallRequest{}, err
		}
	}
	sig, err := runtime.ParseSignature(params, ret)
	if err != nil {
		return runtime.CallRequest{}, err
	}
	if c.Fixed != nil {
		sig.Variadic = true
		sig.Fixed = *c.Fixed
	}
	args, err := nodeList(&c.Args)
	if err != nil {
		return runtime.CallRequest{}, err
	}
	return runtime.CallRequest{
		Library:   c.Library,
		Func:      c.Func,
		Signature: sig,
		Args:      args,
		CallOptions: runtime.CallOptions{
			Errno:            c.Errno,
			FreeResultMemory: c.FreeResult,
		},
	}, nil
}

func nodeList(n *yaml.Node) ([]any, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	v, err := descriptor.FromNode(n)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("line %d: expected a list", n.Line)
	}
	return list, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	reqs := make([]runtime.CallRequest, len(batch.Calls))
	for i, c := range batch.Calls {
		if reqs[i], err = c.request(); err != nil {
			return fmt.Errorf("call %d (%s): %w", i, c.Func, err)
		}
	}

	ctx := cmd.Context()
	rt, _, closeFn, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()
	for _, lib := range batch.Libraries {
		if _, ok := rt.Library(lib.Name); ok {
			continue
		}
		if _, err := rt.Open(lib.Name, lib.Path); err != nil {
			return err
		}
	}

	docs := make([]resultDoc, len(reqs))
	keepGoing, _ := cmd.Flags().GetBool("keep-going")
	if keepGoing {
		chans := make([]<-chan runtime.AsyncResult, len(reqs))
		for i, req := range reqs {
			chans[i] = rt.CallAsync(ctx, req)
		}
		for i, ch := range chans {
			out := <-ch
			docs[i] = newResultDoc(out.Result, out.Err)
		}
	} else {
		results, err := rt.CallAll(ctx, reqs)
		if err != nil {
			return err
		}
		for i, res := range results {
			docs[i] = newResultDoc(res, nil)
		}
	}

	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	return writeResults(os.Stdout, format, useColor(cmd, os.Stdout), docs)
}
