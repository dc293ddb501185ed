package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the target", runCmds},
	{"Viewing and changing registers", dataCmds},
	{"Other commands", otherCmds},
}
