package main

import (
	"github.com/fivecolleges/compassprobe/client/cmd"
	basecmd "github.com/fivecolleges/compassprobe/cmd"
)

func main() {
	basecmd.Run(&cmd.ProbeCmd{}, "compass-probe", cmd.Description)
}
