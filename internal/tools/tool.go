// Package tools implements the helpers agents consult before answering:
// fetching the job posting, searching the web and reading the resume.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is a capability an agent can use to gather input for its task.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]string) (string, error)
}

// ErrUnknownTool is returned by Registry.Get for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing a tool registered under the same name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTool, name)
	}
	return t, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func requireArg(args map[string]string, keys ...string) (string, error) {
	for _, key := range keys {
		if v := strings.TrimSpace(args[key]); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("argument %q is required", keys[0])
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "\n\n[...truncated...]"
}
