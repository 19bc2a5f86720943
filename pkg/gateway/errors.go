// Copyright 2024-2026 Aiku AI

package gateway

import (
	"errors"
	"fmt"
)

// ErrManagerClosed is returned by Acquire after Close.
var ErrManagerClosed = errors.New("connection manager is closed")

// CreationStage names the step at which session creation failed.
type CreationStage string

const (
	StageCredentials CreationStage = "load_credentials"
	StageHandshake   CreationStage = "handshake"
)

// CreationError is returned to every caller waiting on a failed creation.
type CreationError struct {
	ClientID string
	Stage    CreationStage
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create session for %s: %s: %v", e.ClientID, e.Stage, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
