// Package creds supplies the auth token used in the session handshake.
package creds

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider supplies the credential presented during the auth handshake.
// It is consulted on every connect attempt, so rotated credentials are
// picked up at the next reconnect.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static holds a fixed token.
type Static struct {
	token string
}

// NewStatic creates a provider for a fixed token.
func NewStatic(token string) (*Static, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	return &Static{token: token}, nil
}

// Token returns the fixed token.
func (s *Static) Token(ctx context.Context) (string, error) {
	return s.token, nil
}

// File reads the token from a file, re-reading on every call so a token
// rotated on disk takes effect at the next handshake.
type File struct {
	path string
}

// NewFile creates a provider backed by a token file.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("token path is required")
	}
	// Fail fast on an unreadable file rather than at the first connect.
	if _, err := readToken(path); err != nil {
		return nil, err
	}
	return &File{path: path}, nil
}

// Token reads and returns the current token.
func (f *File) Token(ctx context.Context) (string, error) {
	return readToken(f.path)
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}

	return token, nil
}
