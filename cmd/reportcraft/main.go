package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "reportcraft"}

	root.AddCommand(serveCMD(), researchCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
