package service

import commonlog "carexpert/common/log"

// Notifier surfaces user-visible notices. The rendering layer supplies its
// own implementation; LogNotifier is the fallback used by headless hosts.
type Notifier interface {
	Success(message string)
	Error(message string)
	Info(message string)
}

type LogNotifier struct{}

func (LogNotifier) Success(message string) {
	commonlog.Infof("event=notice level=success message=%q", message)
}

func (LogNotifier) Error(message string) {
	commonlog.Warnf("event=notice level=error message=%q", message)
}

func (LogNotifier) Info(message string) {
	commonlog.Infof("event=notice level=info message=%q", message)
}
