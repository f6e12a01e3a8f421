package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	registerBuiltins()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
