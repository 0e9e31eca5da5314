package testutil

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
)

// MockT records the failures reported by fixtures and assertions so their
// own behaviour can be tested. Fatal and FailNow stop the calling goroutine;
// run fixtures through RunWithMockT.
type MockT struct {
	testing.TB

	mu       sync.Mutex
	Failed_  bool
	Fatal_   bool
	Message  string
	Messages []string
	Logs     []string
	cleanups []func()
}

// NewMockT creates a new MockT.
func NewMockT() *MockT {
	return &MockT{}
}

func (m *MockT) record(fatal bool, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed_ = true
	if fatal {
		m.Fatal_ = true
	}
	m.Message = msg
	m.Messages = append(m.Messages, msg)
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Name implements testing.TB.
func (m *MockT) Name() string { return "MockT" }

// Log implements testing.TB.
func (m *MockT) Log(args ...any) {
	m.mu.Lock()
	m.Logs = append(m.Logs, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
	m.mu.Unlock()
}

// Logf implements testing.TB.
func (m *MockT) Logf(format string, args ...any) {
	m.mu.Lock()
	m.Logs = append(m.Logs, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) { m.record(false, fmt.Sprint(args...)) }

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) { m.record(false, fmt.Sprintf(format, args...)) }

// Fail implements testing.TB.
func (m *MockT) Fail() {
	m.mu.Lock()
	m.Failed_ = true
	m.mu.Unlock()
}

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.Fail()
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Failed_
}

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.record(true, fmt.Sprint(args...))
	runtime.Goexit()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.record(true, fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// Cleanup implements testing.TB. Registered functions run in reverse order
// when RunWithMockT returns.
func (m *MockT) Cleanup(fn func()) {
	m.mu.Lock()
	m.cleanups = append(m.cleanups, fn)
	m.mu.Unlock()
}

// RunWithMockT runs fn on its own goroutine so that Fatal can stop it, waits
// for it to finish and runs the registered cleanups.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done

	for i := len(mt.cleanups) - 1; i >= 0; i-- {
		mt.cleanups[i]()
	}
	return mt
}
