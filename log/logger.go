//
// Copyright 2017-2019 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package log is the per module logging facility of ipsecd.
//
// Every module creates its own Logger with New. Debug logs are
// enabled per module, either through LogConfig.Debugs or with
// EnableDebugLog.
package log

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// LogConfig defines a configuration for logging facility.
type LogConfig struct {
	Log      string   `toml:"log"`      // "syslog", "stdout", "file", or "none"
	Syslogd  string   `toml:"syslogd"`  // Network address for syslogd (e.g. "localhost:627")
	Network  string   `toml:"network"`  // "tcp" or "udp"
	Tag      string   `toml:"tag"`      // Tag for syslog
	Facility string   `toml:"facility"` // Facility used for syslog (e.g. "LOG_USER")
	Logfile  string   `toml:"logfile"`  // Filename for log file (used for "file")
	Verbose  bool     `toml:"verbose"`  // If enabled, prints filename and line number (e.g. "file.go:23")
	Level    string   `toml:"level"`    // Minimum level to log ("fatal", "error", "warning", "info" or "debug")
	Debugs   []string `toml:"debugs"`   // A slice of modules to debug. If set to "*", debugs all modules.
}

func (lc LogConfig) String() string {
	str := ""
	s := reflect.ValueOf(&lc).Elem()
	typeOfT := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		str += fmt.Sprintf("%s=%v ", typeOfT.Field(i).Name, f.Interface())
	}
	return str
}

// Log outputs.
const (
	Ostdout = "stdout"
	Osyslog = "syslog"
	Ofile   = "file"
	Onone   = "none"
)

// Defaults.
const (
	DefaultLog        = Ostdout
	DefaultSyslogd    = ""
	DefaultNetwork    = ""
	DefaultTag        = "ipsecd"
	DefaultFacility   = "LOG_USER"
	DefaultLogfile    = "/var/log/ipsecd.log"
	DefaultLevel      = "debug"
	DefaultDebugLevel = 0
	DefaultTimeFormat = "2006/01/02 15:04:05.000000"

	defaultLoggerName = "unknown"
)

// Level is a minimum level to log.
type Level int

// Levels, from the most severe.
const (
	Lfatal Level = iota
	Lerror
	Lwarning
	Linfo
	Ldebug
)

func (l Level) String() string {
	m := map[Level]string{
		Lfatal:   "fatal",
		Lerror:   "error",
		Lwarning: "warning",
		Linfo:    "info",
		Ldebug:   "debug",
	}
	return m[l]
}

var levelString = map[string]Level{
	"fatal":   Lfatal,
	"error":   Lerror,
	"warning": Lwarning,
	"info":    Linfo,
	"debug":   Ldebug,
}

// ParseLevel returns the level named s.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelString[strings.ToLower(s)]; ok {
		return l, nil
	}
	return Lfatal, errors.Errorf("Unknown log level: %s", s)
}

var logrusLevel = map[Level]logrus.Level{
	Lfatal:   logrus.FatalLevel,
	Lerror:   logrus.ErrorLevel,
	Lwarning: logrus.WarnLevel,
	Linfo:    logrus.InfoLevel,
	Ldebug:   logrus.DebugLevel,
}

var tags = map[logrus.Level]string{
	logrus.PanicLevel: "[PANIC]",
	logrus.FatalLevel: "[FATAL]",
	logrus.ErrorLevel: "[ERROR]",
	logrus.WarnLevel:  "[WARN ]",
	logrus.InfoLevel:  "[INFO ]",
	logrus.DebugLevel: "[DEBUG]",
	logrus.TraceLevel: "[TRACE]",
}

const (
	moduleField = "module"
	callerField = "caller"
)

// formatter prints "date time [LEVEL][module] message".
type formatter struct{}

func (formatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(e.Time.Format(DefaultTimeFormat))
	b.WriteByte(' ')
	b.WriteString(tags[e.Level])
	if m, ok := e.Data[moduleField]; ok {
		fmt.Fprintf(&b, "[%v]", m)
	}
	b.WriteByte(' ')
	if c, ok := e.Data[callerField]; ok {
		fmt.Fprintf(&b, "%v: ", c)
	}
	b.WriteString(strings.TrimRight(e.Message, "\n"))
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func shortFile(file string) string {
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		return file[i+1:]
	}
	return file
}

type logManager struct {
	mutex          sync.Mutex
	level          Level
	debug          uint8
	modules        map[string]*Logger
	debugAll       bool
	modulesToDebug map[string]struct{}
	file           *os.File
	verbose        bool
	out            *logrus.Logger
}

func newLogrus(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(formatter{})
	l.SetLevel(logrus.DebugLevel)
	return l
}

var logMgr = &logManager{
	level:          levelString[DefaultLevel],
	modules:        make(map[string]*Logger),
	modulesToDebug: make(map[string]struct{}),
	out:            newLogrus(os.Stdout),
}

// Logger is a logger of one module.
type Logger struct {
	mutex        sync.Mutex
	name         string
	debug        uint8
	debugEnabled bool
	entry        *logrus.Entry
	mgr          *logManager
}

// DefaultLogConfig is the configuration used when Init is given nil.
var DefaultLogConfig = LogConfig{
	Log:      DefaultLog,
	Syslogd:  DefaultSyslogd,
	Network:  DefaultNetwork,
	Tag:      DefaultTag,
	Facility: DefaultFacility,
	Logfile:  DefaultLogfile,
	Level:    DefaultLevel,
	Debugs:   []string{},
}

var facilities = map[string]syslog.Priority{
	"LOG_USER":   syslog.LOG_USER,
	"LOG_SYSLOG": syslog.LOG_SYSLOG,
	"LOG_LOCAL0": syslog.LOG_LOCAL0,
	"LOG_LOCAL1": syslog.LOG_LOCAL1,
	"LOG_LOCAL2": syslog.LOG_LOCAL2,
	"LOG_LOCAL3": syslog.LOG_LOCAL3,
	"LOG_LOCAL4": syslog.LOG_LOCAL4,
	"LOG_LOCAL5": syslog.LOG_LOCAL5,
	"LOG_LOCAL6": syslog.LOG_LOCAL6,
	"LOG_LOCAL7": syslog.LOG_LOCAL7,
}

func openSyslog(c *LogConfig, out *logrus.Logger) error {
	priority, ok := facilities[c.Facility]
	if !ok {
		return errors.Errorf("Unknown syslog facility: %v", c.Facility)
	}
	hook, err := lsyslog.NewSyslogHook(c.Network, c.Syslogd, priority|syslog.LOG_INFO, c.Tag)
	if err != nil {
		return errors.Wrap(err, "Can't connect to syslogd")
	}
	out.SetOutput(io.Discard)
	out.AddHook(hook)
	return nil
}

// Init initialize logging facility based on configuration.
// In the case of any failure, it returns error.
//
// If the logging facility is already initialized, the log file is
// closed first and reopened even if the path hasn't changed.
func Init(c *LogConfig) error {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	if c == nil {
		c = &DefaultLogConfig
	}

	level, err := ParseLevel(c.Level)
	if err != nil {
		return err
	}

	out := newLogrus(os.Stdout)
	var file *os.File

	switch l := c.Log; l {
	case Ostdout:

	case Ofile:
		f, err := os.OpenFile(c.Logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "Can't open %v", c.Logfile)
		}
		out.SetOutput(f)
		file = f

	case Osyslog:
		if err := openSyslog(c, out); err != nil {
			return err
		}

	case Onone:
		out.SetOutput(io.Discard)
		level = Lfatal

	default:
		return errors.Errorf("Unknown logging facility: %s", l)
	}

	if f := logMgr.file; f != nil {
		defer f.Close()
	}
	logMgr.file = file
	logMgr.out = out
	logMgr.level = level
	logMgr.verbose = c.Verbose
	for _, logger := range logMgr.modules {
		logger.entry = out.WithField(moduleField, logger.name)
	}

	logMgr.modulesToDebug = make(map[string]struct{})
	if c.Log == Onone {
		debugNone()
		return nil
	}

	if len(c.Debugs) == 0 {
		debugNone()
		return nil
	}
	for _, n := range c.Debugs {
		logMgr.modulesToDebug[n] = struct{}{}
	}
	if _, ok := logMgr.modulesToDebug["*"]; ok {
		debugAll()
		return nil
	}
	logMgr.debugAll = false
	for n, l := range logMgr.modules {
		if _, found := logMgr.modulesToDebug[n]; found {
			l.EnableDebug()
		} else {
			l.DisableDebug()
		}
	}
	return nil
}

// SetOutput redirects every logger to w.
func SetOutput(w io.Writer) {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	logMgr.out.SetOutput(w)
}

var std *Logger

// DefaultLogger returns the logger used before a module has its own.
func DefaultLogger() *Logger {
	return std
}

// New returns Logger.
// Name is used to enable or disable logging per module name.
func New(name string) (*Logger, error) {
	if name == "" || strings.Contains(name, "%") {
		return nil, errors.Errorf("Invalid module name: '%v'", name)
	}

	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	if _, exists := logMgr.modules[name]; exists {
		return nil, errors.Errorf("Module '%v' already exists.", name)
	}

	logger := &Logger{
		name:  name,
		debug: logMgr.debug,
		entry: logMgr.out.WithField(moduleField, name),
		mgr:   logMgr,
	}
	logMgr.modules[name] = logger

	if _, found := logMgr.modulesToDebug[name]; logMgr.debugAll || found {
		logger.debugEnabled = true
	}

	return logger, nil
}

func (lm *logManager) delete(logger *Logger) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	delete(lm.modules, logger.name)
}

// EnableDebugLog enables debug log for the module specified by name.
func EnableDebugLog(name string) {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	if logger, ok := logMgr.modules[name]; ok {
		logMgr.modulesToDebug[name] = struct{}{}
		logger.EnableDebug()
	}
}

// DisableDebugLog disables debug log for the module specified by name.
func DisableDebugLog(name string) {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	if logger, ok := logMgr.modules[name]; ok {
		delete(logMgr.modulesToDebug, name)
		logger.DisableDebug()
	}
}

// No locking
func debugAll() {
	logMgr.debugAll = true
	for _, logger := range logMgr.modules {
		logger.EnableDebug()
	}
}

// DebugAll enables debug log of all modules.
func DebugAll() {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	debugAll()
}

// No locking
func debugNone() {
	logMgr.debugAll = false
	for _, logger := range logMgr.modules {
		logger.DisableDebug()
	}
}

// DebugNone disables debug log of all modules.
func DebugNone() {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	debugNone()
}

// Modules returns whether debug log is enabled, by module name.
func Modules() map[string]bool {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	m := make(map[string]bool, len(logMgr.modules))
	for n, l := range logMgr.modules {
		m[n] = l.DebugEnabled()
	}
	return m
}

// LogLevel returns the current minimum logging level.
func LogLevel() Level {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	return logMgr.level
}

// SetLogLevel sets the minimum level to log to the given level.
func SetLogLevel(level Level) {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	logMgr.level = level
}

// SetDebugLevel sets the debug level of every module.
func SetDebugLevel(level uint8) {
	logMgr.mutex.Lock()
	defer logMgr.mutex.Unlock()

	logMgr.debug = level
	for _, logger := range logMgr.modules {
		logger.SetDebugLevel(level)
	}
}

// Name returns module name associated with the logger.
func (l *Logger) Name() string {
	return l.name
}

// EnableDebug enables debug log.
func (l *Logger) EnableDebug() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.debugEnabled = true
}

// DisableDebug disables debug log.
func (l *Logger) DisableDebug() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.debugEnabled = false
}

// DebugEnabled returns if debug log is enabled or not.
func (l *Logger) DebugEnabled() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.debugEnabled
}

// DebugLevel returns the current debug level.
func (l *Logger) DebugLevel() uint8 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.debug
}

// SetDebugLevel sets the current debug level.
func (l *Logger) SetDebugLevel(level uint8) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.debug = level
}

// Close closes the logger.
func (l *Logger) Close() {
	l.mutex.Lock()
	l.debugEnabled = false
	l.mutex.Unlock()

	l.mgr.delete(l)
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	l.mgr.mutex.Lock()
	enabled := l.mgr.level >= level
	verbose := l.mgr.verbose
	entry := l.entry
	l.mgr.mutex.Unlock()
	if !enabled {
		return
	}
	if verbose {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry = entry.WithField(callerField, fmt.Sprintf("%s:%d", shortFile(file), line))
		}
	}
	entry.Logf(logrusLevel[level], format, v...)
}

// Debug logs a message if debug is enabled for the module and
// debug is equal or smaller than the debug level of the module.
// Arguments are handled in the manner of fmt.Printf.
func (l *Logger) Debug(debug uint8, format string, v ...interface{}) {
	l.mutex.Lock()
	enabled := l.debugEnabled && debug <= l.debug
	l.mutex.Unlock()
	if enabled {
		l.log(Ldebug, format, v...)
	}
}

// Info logs a message if the level is at least Linfo.
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(Linfo, format, v...)
}

// Warning logs a message if the level is at least Lwarning.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.log(Lwarning, format, v...)
}

// Err logs a message if the level is at least Lerror.
func (l *Logger) Err(format string, v ...interface{}) {
	l.log(Lerror, format, v...)
}

// Printf is equivalent to Info.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.log(Linfo, format, v...)
}

// Fatalf logs at the fatal level and exits.
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.mgr.mutex.Lock()
	entry := l.entry
	l.mgr.mutex.Unlock()
	entry.Fatalf(format, v...)
}

func init() {
	var err error
	if std, err = New(defaultLoggerName); err != nil {
		panic(err)
	}
}
