package cli

import (
	"fmt"
	"os"

	"github.com/aiwf/aiwf/internal/errors"
)

// PrintError prints an error to stderr. Engine errors use the structured
// What/Why/Fix rendering; everything else gets a plain line.
func PrintError(err error) {
	if engErr := errors.AsEngineError(err); engErr != nil {
		fmt.Fprintln(os.Stderr, engErr.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", engErr.Code)
			if engErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", engErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
