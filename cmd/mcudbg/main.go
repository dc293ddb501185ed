package main

import (
	"github.com/mcudbg/mcudbg/cmd/mcudbg/cmds"
)

func main() {
	cmds.New().Execute()
}
