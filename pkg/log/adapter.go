package log

import "github.com/sirupsen/logrus"

// BadgerAdapter satisfies badger.Logger by forwarding to a logrus entry,
// so BadgerDB's internal messages carry the same fields as the rest of
// the crawl log.
type BadgerAdapter struct {
	entry *logrus.Entry
}

// NewBadgerAdapter wraps entry for use with badger's WithLogger option.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry: entry}
}

func (a *BadgerAdapter) Errorf(f string, v ...any)   { a.entry.Errorf(f, v...) }
func (a *BadgerAdapter) Warningf(f string, v ...any) { a.entry.Warningf(f, v...) }
func (a *BadgerAdapter) Infof(f string, v ...any)    { a.entry.Infof(f, v...) }
func (a *BadgerAdapter) Debugf(f string, v ...any)   { a.entry.Debugf(f, v...) }
