package main

import (
	"fmt"
	"os"

	"reconstructd/internal/reconctl"
)

func main() {
	if err := reconctl.BuildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
