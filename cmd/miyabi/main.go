package main

import (
	"fmt"
	"os"

	"github.com/miyabi-dev/miyabi/internal/cli"
	"github.com/miyabi-dev/miyabi/internal/errs"
)

func main() {
	if err := cli.Execute(); err != nil {
		if e, ok := err.(*errs.Error); ok {
			fmt.Fprintln(os.Stderr, e.Error())
			os.Exit(e.Code.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
