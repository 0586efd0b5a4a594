package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/covgate/cmd/covgate/app"
)

func main() {
	if err := app.NewCovgateCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
