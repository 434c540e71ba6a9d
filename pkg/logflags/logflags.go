// Package logflags controls which layers of mdb-go produce debug logs.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var pclntab = false
var stack = false
var walk = false
var target = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Pclntab returns true if the function table reader should log.
func Pclntab() bool {
	return pclntab
}

// PclntabLogger returns a logger for the function table reader.
func PclntabLogger() Logger {
	return makeFlaggableLogger(pclntab, Fields{"layer": "pclntab"})
}

// Stack returns true if the stack unwinder should log every frame.
func Stack() bool {
	return stack
}

// StackLogger returns a logger for the stack unwinder.
func StackLogger() Logger {
	return makeFlaggableLogger(stack, Fields{"layer": "stack"})
}

// Walk returns true if the list walkers should log every element.
func Walk() bool {
	return walk
}

// WalkLogger returns a logger for the list walkers.
func WalkLogger() Logger {
	return makeFlaggableLogger(walk, Fields{"layer": "walk"})
}

// Target returns true if the target backends should log.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the target backends.
func TargetLogger() Logger {
	return makeFlaggableLogger(target, Fields{"layer": "target"})
}

// Terminal returns true if the command loop should log.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the command loop.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "mdbgo-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "pclntab"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "pclntab":
			pclntab = true
		case "stack":
			stack = true
		case "walk":
			walk = true
		case "target":
			target = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'mdbgo help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level)
	for k, v := range entry.Data {
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

var textFormatterInstance = &textFormatter{}
