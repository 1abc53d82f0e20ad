package main

import (
	"github.com/BioHazard786/devicehub/cmd"
	"github.com/BioHazard786/devicehub/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
