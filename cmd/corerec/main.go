// Package main is the entry point for corerec.
package main

import (
	"errors"
	"os"

	"github.com/streamkeep/corerec/cmd/corerec/cmd"
	"github.com/streamkeep/corerec/internal/models"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		os.Exit(models.ExitSuccess)
	}

	var exitErr *cmd.ExitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(models.ExitGenericFailure)
}
