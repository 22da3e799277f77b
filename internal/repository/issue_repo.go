package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"beadboard/internal/middleware"
	"beadboard/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: CLI-BACKED REPOSITORY

The issue store is owned entirely by the external bd tool - other processes
(and other people) mutate it out-of-band, and its on-disk format is not ours
to know. So instead of an ORM this repository shells out to bd and parses
its --json output.

The interface shape stays the same as any repository: the sync layer only
sees Fetch(ctx, spec) and never learns where issues come from.
*/

// BDRepository reads and writes issues through the bd command-line tool.
// Safe for concurrent use: each call spawns its own process.
type BDRepository struct {
	mu     sync.RWMutex
	binary string
	dir    string // working directory for bd (the workspace root)
}

func NewBDRepository(binary, dir string) *BDRepository {
	return &BDRepository{binary: binary, dir: dir}
}

// SetWorkspace re-points the repository at a different workspace directory.
// Used on workspace switch; in-flight commands keep their old directory.
func (r *BDRepository) SetWorkspace(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir
}

func (r *BDRepository) Workspace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Fetch returns the current full membership for a subscription spec.
// Repeated calls for an unchanged spec return the same logical set, which
// is what lets the registry diff successive fetches.
func (r *BDRepository) Fetch(ctx context.Context, spec models.SubscriptionSpec) ([]*models.Issue, error) {
	args, err := argsForSpec(spec)
	if err != nil {
		return nil, err
	}

	ctx, span := middleware.StartSpan(ctx, "BDRepository.Fetch",
		attribute.String("subscription.key", spec.Key()),
	)
	defer span.End()

	out, err := r.run(ctx, args...)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	issues, err := parseIssueList(out)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("issues.count", len(issues)))
	return issues, nil
}

// argsForSpec maps a validated subscription spec onto a bd invocation.
func argsForSpec(spec models.SubscriptionSpec) ([]string, error) {
	switch strings.ToLower(spec.Type) {
	case "issues":
		args := []string{"list", "--json"}
		if v, ok := spec.Params["status"]; ok {
			args = append(args, "--status", paramString(v))
		}
		if v, ok := spec.Params["assignee"]; ok {
			args = append(args, "--assignee", paramString(v))
		}
		if v, ok := spec.Params["type"]; ok {
			args = append(args, "--type", paramString(v))
		}
		if v, ok := spec.Params["label"]; ok {
			args = append(args, "--label", paramString(v))
		}
		if v, ok := spec.Params["priority_max"]; ok {
			args = append(args, "--priority-max", paramString(v))
		}
		return args, nil
	case "epic_children":
		parent, ok := spec.Params["parent"]
		if !ok {
			return nil, fmt.Errorf("epic_children requires a parent parameter")
		}
		return []string{"list", "--json", "--parent", paramString(parent)}, nil
	default:
		return nil, fmt.Errorf("unknown query type %q", spec.Type)
	}
}

// paramString renders a JSON-decoded parameter value as a CLI argument.
func paramString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func parseIssueList(out []byte) ([]*models.Issue, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var issues []*models.Issue
	if err := json.Unmarshal(trimmed, &issues); err != nil {
		return nil, fmt.Errorf("failed to parse bd output: %w", err)
	}
	return issues, nil
}

// Mutation surface. Each of these shells out to bd; callers are expected
// to arm the refresh scheduler's mutation gate afterwards so viewers see
// the write.

func (r *BDRepository) Create(ctx context.Context, create *models.IssueCreate) (*models.Issue, error) {
	args := []string{"create", create.Title, "--json", "-p", strconv.Itoa(create.Priority)}
	if create.Description != "" {
		args = append(args, "-d", create.Description)
	}
	if create.IssueType != "" {
		args = append(args, "-t", string(create.IssueType))
	}
	if create.Assignee != "" {
		args = append(args, "-a", create.Assignee)
	}
	if create.Parent != "" {
		args = append(args, "--parent", create.Parent)
	}

	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var issue models.Issue
	if err := json.Unmarshal(bytes.TrimSpace(out), &issue); err != nil {
		return nil, fmt.Errorf("failed to parse bd create output: %w", err)
	}
	return &issue, nil
}

func (r *BDRepository) Update(ctx context.Context, id string, update *models.IssueUpdate) error {
	args := []string{"update", id}
	if update.Title != nil {
		args = append(args, "--title", *update.Title)
	}
	if update.Description != nil {
		args = append(args, "-d", *update.Description)
	}
	if update.Status != nil {
		args = append(args, "--status", string(*update.Status))
	}
	if update.Priority != nil {
		args = append(args, "-p", strconv.Itoa(*update.Priority))
	}
	if update.Assignee != nil {
		args = append(args, "-a", *update.Assignee)
	}
	if update.IssueType != nil {
		args = append(args, "-t", string(*update.IssueType))
	}
	if len(args) == 2 {
		return fmt.Errorf("no fields to update")
	}

	_, err := r.run(ctx, args...)
	return err
}

func (r *BDRepository) CloseIssue(ctx context.Context, id, reason string) error {
	args := []string{"close", id}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	_, err := r.run(ctx, args...)
	return err
}

// run executes one bd invocation and returns stdout. Stderr is folded
// into the error so fetch failures surface something actionable.
func (r *BDRepository) run(ctx context.Context, args ...string) ([]byte, error) {
	r.mu.RLock()
	binary, dir := r.binary, r.dir
	r.mu.RUnlock()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("bd %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}
