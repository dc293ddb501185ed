// Package logflags routes the --log/--log-output command line flags to
// per-component logrus loggers.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var regCache = false
var simCore = false
var terminal = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// RegCache returns true if the register cache should log its
// invalidations and transport traffic.
func RegCache() bool {
	return regCache
}

// RegCacheLogger returns a configured logger for the register cache.
func RegCacheLogger() *logrus.Entry {
	return makeLogger(regCache, logrus.Fields{"layer": "debug", "kind": "regcache"})
}

// SimCore returns true if the simulated core backend should log.
func SimCore() bool {
	return simCore
}

// SimCoreLogger returns a logger for the simulated core backend.
func SimCoreLogger() *logrus.Entry {
	return makeLogger(simCore, logrus.Fields{"layer": "target", "kind": "simcore"})
}

// Terminal returns true if terminal command dispatch should be logged.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the terminal package.
func TerminalLogger() *logrus.Entry {
	return makeLogger(terminal, logrus.Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "regcache"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "regcache":
			regCache = true
		case "simcore":
			simCore = true
		case "terminal":
			terminal = true
		}
	}
	return nil
}
