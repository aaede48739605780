package main

import (
	"os"

	// Embedded IANA database so schedules resolve on hosts without zoneinfo.
	_ "time/tzdata"

	"github.com/solatis/tripwire/cmd/tripwire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
