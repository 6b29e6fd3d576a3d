// Package paramstore resolves named configuration values and secrets.
//
// Names are slash separated ("picrelay/jwt_key"). The Env backend maps them to
// environment variables (PICRELAY_JWT_KEY); the SSM backend maps them to AWS
// Systems Manager parameters (/picrelay/jwt_key).
package paramstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when a parameter has no value.
var ErrNotFound = errors.New("parameter not found")

type Store interface {
	GetValue(ctx context.Context, name string) (string, error)
	SetValue(ctx context.Context, name, value string) error
}

// Join builds a parameter name from its parts, skipping empty ones.
func Join(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// Env reads parameters from the process environment. Values set through
// SetValue live in memory only and shadow the environment.
type Env struct {
	mu        sync.RWMutex
	overrides map[string]string
	lookup    func(string) (string, bool)
}

func NewEnv() *Env {
	return &Env{overrides: make(map[string]string), lookup: os.LookupEnv}
}

// EnvName converts a parameter name into its environment variable name.
func EnvName(name string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return strings.ToUpper(r.Replace(strings.Trim(name, "/")))
}

func (e *Env) GetValue(_ context.Context, name string) (string, error) {
	key := EnvName(name)

	e.mu.RLock()
	v, ok := e.overrides[key]
	e.mu.RUnlock()
	if ok {
		return v, nil
	}

	if v, ok := e.lookup(key); ok && v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

func (e *Env) SetValue(_ context.Context, name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[EnvName(name)] = value
	return nil
}
