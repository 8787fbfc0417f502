// Command patientetl loads patient files into PostgreSQL and projects them
// into identity-stable canonical records.
//
//	patientetl ingest --file patients.csv [--strict]
//	patientetl transform
//	patientetl serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/PatientETL/internal/core"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints the support message for known failures followed by
// the technical error. Unknown failures print the technical error alone.
func reportError(w io.Writer, err error) {
	if !core.IsUserFacing(err) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %s\n  %v\n", core.FormatUserError(err), err)
}
