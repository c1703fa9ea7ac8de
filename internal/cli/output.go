package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// output writes data as indented JSON or text as a line, per --format
func output(cmd *cobra.Command, opts *RootOptions, data any, text string) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
