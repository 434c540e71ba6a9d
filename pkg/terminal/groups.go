package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	stackCmds
	runtimeCmds
	dataCmds
	targetCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Viewing the call stack", stackCmds},
	{"Inspecting goroutines, threads and processors", runtimeCmds},
	{"Inspecting timers, signals, defers and panics", dataCmds},
	{"Inspecting the target", targetCmds},
	{"Other commands", otherCmds},
}
