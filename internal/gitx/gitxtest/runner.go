// Package gitxtest provides a scripted gitx.Runner for unit tests.
package gitxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a canned result for one git invocation.
type Response struct {
	Output string
	Err    error
}

// MockRunner implements gitx.Runner for testing.
type MockRunner struct {
	// Responses maps "dir:args" keys to canned results. A key with an empty
	// dir (":args") matches any directory.
	Responses map[string]Response
	// Sequences hands out successive results for repeated calls of the same
	// key, falling back to Responses once exhausted.
	Sequences map[string][]Response
	// OnCall runs before the lookup, letting a test mutate files the way
	// git would.
	OnCall func(dir string, args []string)

	mu sync.Mutex
	// Calls records every "dir:args" key in order.
	Calls []string
}

// Run implements gitx.Runner.
func (m *MockRunner) Run(_ context.Context, dir string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dir + ":" + strings.Join(args, " ")
	m.Calls = append(m.Calls, key)
	if m.OnCall != nil {
		m.OnCall(dir, args)
	}
	keyNoDir := ":" + strings.Join(args, " ")
	for _, k := range []string{key, keyNoDir} {
		if seq := m.Sequences[k]; len(seq) > 0 {
			m.Sequences[k] = seq[1:]
			return seq[0].Output, seq[0].Err
		}
		if resp, ok := m.Responses[k]; ok {
			return resp.Output, resp.Err
		}
	}
	return "", fmt.Errorf("unexpected call: dir=%q args=%v", dir, args)
}

// Called reports whether a call with the given args (any dir) was made.
func (m *MockRunner) Called(args ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	suffix := ":" + strings.Join(args, " ")
	for _, c := range m.Calls {
		if strings.HasSuffix(c, suffix) {
			return true
		}
	}
	return false
}

// CallsWithPrefix returns recorded calls whose args start with prefix.
func (m *MockRunner) CallsWithPrefix(prefix ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := strings.Join(prefix, " ")
	var out []string
	for _, c := range m.Calls {
		_, args, _ := strings.Cut(c, ":")
		if strings.HasPrefix(args, want) {
			out = append(out, c)
		}
	}
	return out
}
