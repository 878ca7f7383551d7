// Copyright (C) flowvalet authors.
// All rights reserved. This file is part of flowvalet.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is the router's leveled logger: a thin wrapper over the
// standard library's log.Logger with systemd priority prefixes
// (https://www.freedesktop.org/software/systemd/man/sd-daemon.html).
// Date/time are omitted by default since journald stamps every line; the
// -logdate style toggle adds them back for plain-file logging.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelNote
	levelWarn
	levelError
	levelCrit
)

var prefixes = [...]string{
	levelDebug: "<7>[DEBUG]    ",
	levelInfo:  "<6>[INFO]     ",
	levelNote:  "<5>[NOTICE]   ",
	levelWarn:  "<4>[WARNING]  ",
	levelError: "<3>[ERROR]    ",
	levelCrit:  "<2>[CRITICAL] ",
}

// callsite flags per level: errors carry the full file path, warnings and
// notices the short one, chatty levels none.
var callsiteFlags = [...]int{
	levelDebug: 0,
	levelInfo:  0,
	levelNote:  log.Lshortfile,
	levelWarn:  log.Lshortfile,
	levelError: log.Llongfile,
	levelCrit:  log.Llongfile,
}

var (
	minLevel    atomic.Int32
	withDate    atomic.Bool
	plainLogs   [len(prefixes)]*log.Logger
	datedLogs   [len(prefixes)]*log.Logger
)

func init() {
	for lvl := range prefixes {
		plainLogs[lvl] = log.New(os.Stderr, prefixes[lvl], callsiteFlags[lvl])
		datedLogs[lvl] = log.New(os.Stderr, prefixes[lvl], callsiteFlags[lvl]|log.LstdFlags)
	}
}

// SetLogLevel sets the minimum level emitted. Unknown values fall back to
// debug with a complaint, matching the principle that a misconfigured logger
// should get louder, not quieter.
func SetLogLevel(lvl string) {
	switch lvl {
	case "debug":
		minLevel.Store(int32(levelDebug))
	case "info":
		minLevel.Store(int32(levelInfo))
	case "notice":
		minLevel.Store(int32(levelNote))
	case "warn":
		minLevel.Store(int32(levelWarn))
	case "err", "fatal":
		minLevel.Store(int32(levelError))
	case "crit":
		minLevel.Store(int32(levelCrit))
	default:
		minLevel.Store(int32(levelDebug))
		fmt.Fprintf(os.Stderr, "pkg/log: invalid loglevel %#v, using 'debug'\n", lvl)
	}
}

// SetLogDateTime toggles date/time stamps on every line.
func SetLogDateTime(logdate bool) {
	withDate.Store(logdate)
}

func emit(lvl level, out string) {
	if int32(lvl) < minLevel.Load() {
		return
	}
	l := plainLogs[lvl]
	if withDate.Load() {
		l = datedLogs[lvl]
	}
	l.Output(3, out)
}

func Print(v ...any)  { emit(levelInfo, fmt.Sprint(v...)) }
func Debug(v ...any)  { emit(levelDebug, fmt.Sprint(v...)) }
func Info(v ...any)   { emit(levelInfo, fmt.Sprint(v...)) }
func Note(v ...any)   { emit(levelNote, fmt.Sprint(v...)) }
func Warn(v ...any)   { emit(levelWarn, fmt.Sprint(v...)) }
func Error(v ...any)  { emit(levelError, fmt.Sprint(v...)) }
func Crit(v ...any)   { emit(levelCrit, fmt.Sprint(v...)) }

func Printf(format string, v ...any) { emit(levelInfo, fmt.Sprintf(format, v...)) }
func Debugf(format string, v ...any) { emit(levelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { emit(levelInfo, fmt.Sprintf(format, v...)) }
func Notef(format string, v ...any)  { emit(levelNote, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { emit(levelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { emit(levelError, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...any)  { emit(levelCrit, fmt.Sprintf(format, v...)) }

// Panic logs at error level, then panics.
func Panic(v ...any) {
	Error(v...)
	panic(fmt.Sprint(v...))
}

// Panicf logs at error level, then panics.
func Panicf(format string, v ...any) {
	Errorf(format, v...)
	panic(fmt.Sprintf(format, v...))
}

// Fatal logs at error level, then exits.
func Fatal(v ...any) {
	Error(v...)
	os.Exit(1)
}

// Fatalf logs at error level, then exits.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	os.Exit(1)
}

// Finfof writes an info-level line to an arbitrary writer, bypassing the
// level filter; used for operator-facing output that must not be silenced.
func Finfof(w io.Writer, format string, v ...any) {
	fmt.Fprintf(w, prefixes[levelInfo]+format+"\n", v...)
}
