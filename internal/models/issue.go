package models

import (
	"sort"
	"time"
)

// Status represents the workflow state of an issue as reported by the bd CLI.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IssueType categorizes an issue.
type IssueType string

const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// Issue is one record from the external issue store.
// The store is owned by the bd tool; this struct mirrors the fields its
// JSON output carries. ID is the stable identity; UpdatedAt arbitrates
// conflicting pushes on the client side.
type Issue struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    int        `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	IssueType   IssueType  `json:"issue_type,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Parent      string     `json:"parent,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// MergeFrom copies every mutable field of other into the receiver while
// keeping the receiver's identity (pointer) intact. Holders of the old
// *Issue observe the merged values - this is what lets view layers diff
// by reference instead of re-rendering whole lists.
func (i *Issue) MergeFrom(other *Issue) {
	i.Title = other.Title
	i.Description = other.Description
	i.Status = other.Status
	i.Priority = other.Priority
	i.IssueType = other.IssueType
	i.Assignee = other.Assignee
	i.Labels = other.Labels
	i.Parent = other.Parent
	i.CreatedAt = other.CreatedAt
	i.UpdatedAt = other.UpdatedAt
	i.ClosedAt = other.ClosedAt
}

// Equal reports whether two issues have the same content.
// Used by the registry to decide whether a refetched issue counts as
// "updated" in a delta.
func (i *Issue) Equal(other *Issue) bool {
	if i == nil || other == nil {
		return i == other
	}
	if i.ID != other.ID ||
		i.Title != other.Title ||
		i.Description != other.Description ||
		i.Status != other.Status ||
		i.Priority != other.Priority ||
		i.IssueType != other.IssueType ||
		i.Assignee != other.Assignee ||
		i.Parent != other.Parent ||
		!i.CreatedAt.Equal(other.CreatedAt) ||
		!i.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if (i.ClosedAt == nil) != (other.ClosedAt == nil) {
		return false
	}
	if i.ClosedAt != nil && !i.ClosedAt.Equal(*other.ClosedAt) {
		return false
	}
	if len(i.Labels) != len(other.Labels) {
		return false
	}
	for idx := range i.Labels {
		if i.Labels[idx] != other.Labels[idx] {
			return false
		}
	}
	return true
}

// SortIssues orders a slice for display: priority ascending (P0 first),
// then most recently updated, then ID for a stable tiebreak.
func SortIssues(issues []*Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].Priority != issues[b].Priority {
			return issues[a].Priority < issues[b].Priority
		}
		if !issues[a].UpdatedAt.Equal(issues[b].UpdatedAt) {
			return issues[a].UpdatedAt.After(issues[b].UpdatedAt)
		}
		return issues[a].ID < issues[b].ID
	})
}

// IssueCreate carries the fields accepted when creating an issue through
// the REST surface. The actual write happens in the bd CLI.
type IssueCreate struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	IssueType   IssueType `json:"issue_type,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Parent      string    `json:"parent,omitempty"`
}

// IssueUpdate carries a partial update; nil fields are left untouched.
type IssueUpdate struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Assignee    *string    `json:"assignee,omitempty"`
	IssueType   *IssueType `json:"issue_type,omitempty"`
}
