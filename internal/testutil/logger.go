// Package testutil provides small fakes shared by the engine and reconcile
// test suites, matching the teacher's convention of a
// hand-rolled mockLogger (market_maker/internal/risk/common_test.go)
// rather than a third-party logging stub.
package testutil

import "dcaengine/internal/core"

// NoopLogger implements core.ILogger and discards everything; tests that
// don't assert on log output use it to satisfy constructors requiring a
// logger.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...interface{})  {}
func (NoopLogger) Info(string, ...interface{})   {}
func (NoopLogger) Warn(string, ...interface{})   {}
func (NoopLogger) Error(string, ...interface{})  {}
func (l NoopLogger) WithField(string, interface{}) core.ILogger { return l }
