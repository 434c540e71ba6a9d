package rt

import (
	"fmt"
	"strings"
)

// GStatus is the scheduling status of a goroutine.
type GStatus int16

const (
	Gidle GStatus = iota
	Grunnable
	Grunning
	Gsyscall
	Gwaiting
	GmoribundUnused
	Gdead
)

var gstatusNames = [...]string{
	Gidle:           "Gidle",
	Grunnable:       "Grunnable",
	Grunning:        "Grunning",
	Gsyscall:        "Gsyscall",
	Gwaiting:        "Gwaiting",
	GmoribundUnused: "Gmoribund_unused",
	Gdead:           "Gdead",
}

// Unknown is the name of a status value outside of its enumeration.
const Unknown = "<UNKNOWN>"

func (s GStatus) String() string {
	if s >= 0 && int(s) < len(gstatusNames) {
		return gstatusNames[s]
	}
	return Unknown
}

// PStatus is the status of a logical processor.
type PStatus uint32

const (
	Pidle PStatus = iota
	Prunning
	Psyscall
	Pgcstop
	Pdead
)

var pstatusNames = [...]string{
	Pidle:    "Pidle",
	Prunning: "Prunning",
	Psyscall: "Psyscall",
	Pgcstop:  "Pgcstop",
	Pdead:    "Pdead",
}

func (s PStatus) String() string {
	if int(s) < len(pstatusNames) {
		return pstatusNames[s]
	}
	return Unknown
}

// SigFlags is the disposition of a signal in runtime.sigtab.
type SigFlags int32

const (
	SigNotify SigFlags = 1 << iota
	SigKill
	SigThrow
	SigPanic
	SigDefault
	SigHandling
	SigIgnored
)

var sigFlagNames = []struct {
	flag SigFlags
	name string
}{
	{SigNotify, "NOTIFY"},
	{SigKill, "KILL"},
	{SigThrow, "THROW"},
	{SigPanic, "PANIC"},
	{SigDefault, "DEFAULT"},
	{SigHandling, "HANDLING"},
	{SigIgnored, "IGNORED"},
}

// SigKnown is the union of all flags with a name.
const SigKnown = SigNotify | SigKill | SigThrow | SigPanic | SigDefault | SigHandling | SigIgnored

// Names returns the names of the set flags in bit order. Bits without a
// name are left out.
func (fl SigFlags) Names() []string {
	var names []string
	for _, n := range sigFlagNames {
		if fl&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

// Unknown returns the set bits that have no name.
func (fl SigFlags) Unknown() SigFlags {
	return fl &^ SigKnown
}

func (fl SigFlags) String() string {
	names := fl.Names()
	if len(names) == 0 {
		if fl != 0 {
			return fmt.Sprintf("%#x", uint32(fl))
		}
		return "NONE"
	}
	return strings.Join(names, " | ")
}
