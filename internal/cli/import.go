package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"eventcal/internal/ics"
)

// ImportResult is the output of import.
type ImportResult struct {
	ics.Report
	Errors []string `json:"errors,omitempty"`
}

func (r ImportResult) String() string {
	s := fmt.Sprintf("imported %d source(s): %d created, %d updated, %d native, %d expanded, %d failed",
		r.Sources, r.Created, r.Updated, r.Native, r.Expanded, r.Failed)
	for _, e := range r.Errors {
		s += "\n  " + e
	}
	return s
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "import",
		Short:         "Import all configured ICS feeds once",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := openApp(ctx, rootOpts)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, err)
			}
			defer a.Close()
			f.VerboseLog("importing %d source(s)", len(a.cfg.Imports))

			rep, runErr := a.importer.Run(ctx)
			res := ImportResult{Report: rep}
			if runErr != nil {
				res.Errors = splitJoined(runErr)
			}
			if err := f.Success(res); err != nil {
				return err
			}
			if rep.Failed > 0 {
				return &ExitError{Code: ExitFailure, Message: ErrCodeImport, Err: runErr, Reported: true}
			}
			return nil
		},
	}
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range u.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
