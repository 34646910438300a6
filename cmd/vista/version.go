package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		common.LoadVersionFromFile()
		fmt.Printf("Vista version %s\n", common.GetFullVersion())
	},
}
