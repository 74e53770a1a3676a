package log

import (
	"context"
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/HandsomeChen0407/cjdb/core"
)

type CJLogLevel int

const (
	CJLogLevelPanic CJLogLevel = iota // Programming error, application must stop to prevent giving wrong output
	CJLogLevelFatal                   // Wrong configuration or input that prevents the application from continuing
	CJLogLevelError                   // Programming error, but the application must continue and process other inputs
	CJLogLevelWarn                    // Error caused by the input, the application continues and receives another input
	CJLogLevelInfo
	CJLogLevelDebug
	CJLogLevelTrace
)

var CJLogLevelAsString = map[CJLogLevel]string{
	CJLogLevelTrace: "TRACE",
	CJLogLevelDebug: "DEBUG",
	CJLogLevelInfo:  "INFO",
	CJLogLevelWarn:  "WARN",
	CJLogLevelError: "ERROR",
	CJLogLevelFatal: "FATAL",
	CJLogLevelPanic: "PANIC",
}

type CJLogFormat int

const (
	CJLogFormatText CJLogFormat = iota
	CJLogFormatJSON             = 1
)

type CJLog struct {
	Context context.Context
	Prefix  string
}

var Format CJLogFormat

func NewLog(parentLog *CJLog, context context.Context, prefix string) CJLog {
	if parentLog != nil {
		if parentLog.Prefix != "" {
			prefix = parentLog.Prefix + " | " + prefix
		}
	}
	l := CJLog{Context: context, Prefix: prefix}
	return l
}

func (l *CJLog) LogText(severity CJLogLevel, location string, text string) {
	stack := ``
	a := log.WithFields(log.Fields{"prefix": l.Prefix, "location": location})
	switch severity {
	case CJLogLevelTrace:
		a.Tracef("%s", text)
	case CJLogLevelDebug:
		a.Debugf("%s", text)
	case CJLogLevelInfo:
		a.Infof("%s", text)
	case CJLogLevelWarn:
		a.Warnf("%s", text)
	case CJLogLevelError:
		a.Errorf("%s", text)
	case CJLogLevelFatal:
		a.Fatalf("Terminating... %s", text)
	case CJLogLevelPanic:
		stack = string(debug.Stack())
		a = a.WithField(`stack`, stack)
		a.Fatalf("%s", text)
	default:
		a.Printf("%s", text)
	}
}

func (l *CJLog) Trace(text string) {
	l.LogText(CJLogLevelTrace, ``, text)
}

func (l *CJLog) Tracef(text string, v ...any) {
	t := fmt.Sprintf(text, v...)
	l.Trace(t)
}

func (l *CJLog) Debug(text string) {
	l.LogText(CJLogLevelDebug, ``, text)
}

func (l *CJLog) Debugf(text string, v ...any) {
	t := fmt.Sprintf(text, v...)
	l.Debug(t)
}

func (l *CJLog) Info(text string) {
	l.LogText(CJLogLevelInfo, ``, text)
}

func (l *CJLog) Infof(text string, v ...any) {
	t := fmt.Sprintf(text, v...)
	l.Info(t)
}

func (l *CJLog) Warn(text string) {
	l.LogText(CJLogLevelWarn, ``, text)
}

func (l *CJLog) Warnf(text string, v ...any) {
	t := fmt.Sprintf(text, v...)
	l.Warn(t)
}

func (l *CJLog) WarnAndCreateErrorf(text string, v ...any) (err error) {
	err = fmt.Errorf(text, v...)
	l.LogText(CJLogLevelWarn, ``, err.Error())
	return err
}

func (l *CJLog) Error(text string) {
	l.LogText(CJLogLevelError, ``, text)
}

func (l *CJLog) Errorf(text string, v ...any) {
	t := fmt.Sprintf(text, v...)
	l.Error(t)
}

func (l *CJLog) ErrorAndCreateErrorf(text string, v ...any) (err error) {
	err = fmt.Errorf(text, v...)
	l.Error(err.Error())
	return err
}

func (l *CJLog) Fatal(text string) {
	l.LogText(CJLogLevelFatal, ``, text)
}

func (l *CJLog) Fatalf(text string, v ...any) {
	l.Fatal(fmt.Sprintf(text, v...))
}

func (l *CJLog) FatalAndCreateErrorf(text string, v ...any) (err error) {
	err = fmt.Errorf(text, v...)
	l.Fatal(err.Error())
	return err
}

func (l *CJLog) Panic(location string, err error) {
	l.LogText(CJLogLevelPanic, location, err.Error())
}

func (l *CJLog) PanicAndCreateErrorf(location, text string, v ...any) (err error) {
	err = fmt.Errorf(text, v...)
	l.Panic(location, err)
	return err
}

var Log CJLog

func SetFormatJSON() {
	log.SetFormatter(&log.JSONFormatter{})
	Format = CJLogFormatJSON
}

func SetFormatText() {
	log.SetFormatter(&log.TextFormatter{})
	Format = CJLogFormatText
}

func init() {
	log.SetLevel(log.TraceLevel)
	SetFormatJSON()
	Log = NewLog(nil, core.RootContext, "")
}
