package main

import (
	"os"

	"github.com/nithinmohantk/fhir-security/cmd/fhirsec/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
