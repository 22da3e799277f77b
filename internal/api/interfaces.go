package api

import (
	"context"

	"beadboard/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package is the CONSUMER of the repository and the sync hub, so the
interfaces it needs live HERE, declaring only the methods handlers call.
Implementations (the bd-backed repository, the websocket hub) can change
freely, and tests can substitute fakes without touching those packages.
*/

// IssueRepository is what handlers need from the record store.
type IssueRepository interface {
	Fetch(ctx context.Context, spec models.SubscriptionSpec) ([]*models.Issue, error)
	Create(ctx context.Context, create *models.IssueCreate) (*models.Issue, error)
	Update(ctx context.Context, id string, update *models.IssueUpdate) error
	CloseIssue(ctx context.Context, id, reason string) error
	SetWorkspace(dir string)
}

// SyncCoordinator is what handlers need from the sync hub: arming the
// mutation gate after a write, and wiping state on workspace switch.
type SyncCoordinator interface {
	AfterMutation()
	SwitchWorkspace(path string)
}

// WorkspaceWatcher re-points the change notifier on workspace switch.
type WorkspaceWatcher interface {
	Repoint(path string) error
}
