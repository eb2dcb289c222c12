package types

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type StatusType int32

const (
	None      StatusType = 0
	Pending   StatusType = 1
	Running   StatusType = 2
	Succeeded StatusType = 3
	Failed    StatusType = 5
	Skipped   StatusType = 6
	Cancelled StatusType = 9
)

var statusNames = map[StatusType]string{
	None:      "None",
	Pending:   "Pending",
	Running:   "Running",
	Succeeded: "Succeeded",
	Failed:    "Failed",
	Skipped:   "Skipped",
	Cancelled: "Cancelled",
}

func (s StatusType) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition can happen.
func (s StatusType) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped || s == Cancelled
}

/**
 * Context is handed to every transform invocation.
 * It is detached from run cancellation: an in-flight node always
 * runs to completion, only the per-node timeout can end it early.
 */
type Context interface {
	context.Context

	GetRunID() string
	GetDAGName() string
	GetNodeName() string
	// Attempt starts at 1.
	GetAttempt() int
	GetEnvironment() string
	Logger() *log.Entry
}

type NodeTraceRecord struct {
	RunID     string
	DAG       string
	Node      string
	Status    StatusType
	Attempts  int
	StartTime time.Time
	EndTime   time.Time
	Error     string
	Input     Data
	Output    any
}
