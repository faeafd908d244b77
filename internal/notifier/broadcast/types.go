// Package broadcast fans one message out to many users with bounded
// parallelism and keeps a short history of job outcomes.
package broadcast

import (
	"context"
	"sync"
	"time"

	"surveybot/internal/domain"
	logx "surveybot/pkg/logx"
)

type Config struct {
	Workers int
	// PerSendTimeout bounds one Send call. Zero leaves it to the sender.
	PerSendTimeout time.Duration
}

// Sender is satisfied by notifier.Service.
type Sender interface {
	Send(ctx context.Context, uid domain.UserID, msg domain.Message) error
}

type JobStatus struct {
	ID     string
	Name   string
	Total  int
	Sent   int
	Failed int
	// Failures holds up to 200 recipients whose send failed.
	Failures  []domain.UserID
	StartedAt time.Time
	DoneAt    time.Time
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	sender Sender
	log    logx.Logger

	statusMu sync.RWMutex
	status   map[string]*JobStatus
	order    []string
	// statusMax bounds retained history.
	statusMax int
}
