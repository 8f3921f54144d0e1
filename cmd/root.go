package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "mrtdreader",
	Short: "ICAO 9303 eMRTD reader",
	Long: `mrtdreader v` + version + `
Read electronic passports and other eMRTDs (ICAO 9303) over a
contactless PC/SC reader.

This tool supports:
  - BAC and PACE secure channel establishment from the MRZ
  - Reading EF.COM, EF.SOD and the requested data groups
  - Chip Authentication and Active Authentication
  - Passive Authentication against a CSCA master list`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false,
		"Output the read result as JSON")
}

var outputJSON bool

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
