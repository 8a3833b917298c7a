package main

import (
	"github.com/Brennan-Chesley-FLP/kent/cmd"

	_ "github.com/Brennan-Chesley-FLP/kent/scrapers/democourt"
)

func main() {
	cmd.Execute()
}
