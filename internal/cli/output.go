package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	berr "github.com/next-trace/scg-service-admin/contract/errors"
)

// Response is the JSON envelope every command prints.
type Response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// emit prints the outcome of a command and hands err back so the process exits non-zero.
func emit(cmd *cobra.Command, data any, err error) error {
	if err != nil {
		_ = writeJSON(cmd.OutOrStdout(), Response{Status: "error", Error: errorBody(err)})

		return err
	}

	return writeJSON(cmd.OutOrStdout(), Response{Status: "ok", Data: data})
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{Code: berr.CodeOf(err), Status: berr.Status(err), Message: err.Error()}
}

// ask routes req through a freshly opened runtime and prints the result.
func ask(cmd *cobra.Command, opts *RootOptions, req any) error {
	rt, err := openRuntime(opts.Config, opts.Logger)
	if err != nil {
		return emit(cmd, nil, err)
	}
	defer rt.close()

	res, err := rt.bus.Ask(cmd.Context(), req)

	return emit(cmd, res, err)
}
