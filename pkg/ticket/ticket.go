// Package ticket implements the three-level ticket hierarchy (C4): ParentTicket,
// ChildTicket, and GrandchildTicket, with deterministic positional IDs and
// upward status propagation. It holds no persistence logic of its own — see
// pkg/state for the StateStore that durably owns the hierarchy snapshot.
package ticket

import (
	"fmt"
	"regexp"
	"time"

	"orchestrator/pkg/taxonomy"
)

// Status is the lifecycle state shared by every ticket level.
type Status string

const (
	StatusPending           Status = "pending"
	StatusDecomposing       Status = "decomposing"
	StatusInProgress        Status = "in_progress"
	StatusReviewRequested   Status = "review_requested"
	StatusRevisionRequired  Status = "revision_required"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPRCreated         Status = "pr_created"
	StatusSkipped           Status = "skipped"
)

// WorkerType tags a ChildTicket with the kind of worker it requires.
type WorkerType string

const (
	WorkerResearch  WorkerType = "research"
	WorkerDesign    WorkerType = "design"
	WorkerDeveloper WorkerType = "developer"
	WorkerTest      WorkerType = "test"
	WorkerReviewer  WorkerType = "reviewer"
	WorkerDesigner  WorkerType = "designer"
)

var validWorkerTypes = map[WorkerType]bool{
	WorkerResearch: true, WorkerDesign: true, WorkerDeveloper: true,
	WorkerTest: true, WorkerReviewer: true, WorkerDesigner: true,
}

// ReviewResult captures a reviewer's verdict on a GrandchildTicket.
type ReviewResult struct {
	DecidedAt time.Time `json:"decidedAt"`
	Verdict   string    `json:"verdict"` // "APPROVED" | "NEEDS_REVISION"
	Notes     string    `json:"notes,omitempty"`
}

// GrandchildTicket is a leaf unit of work dispatched to exactly one worker.
//
//nolint:govet // fieldalignment: logical grouping preferred
type GrandchildTicket struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Status             Status        `json:"status"`
	AcceptanceCriteria []string      `json:"acceptanceCriteria"`
	Assignee           string        `json:"assignee,omitempty"`
	GitBranch          string        `json:"gitBranch,omitempty"`
	Artifacts          []string      `json:"artifacts,omitempty"`
	ReviewResult       *ReviewResult `json:"reviewResult,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// ChildTicket decomposes into GrandchildTickets and carries a worker type.
type ChildTicket struct {
	ID                string              `json:"id"`
	Title             string              `json:"title"`
	Status            Status              `json:"status"`
	WorkerType        WorkerType          `json:"workerType"`
	GrandchildTickets []GrandchildTicket  `json:"grandchildTickets"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// ParentTicket is the top of the tree, owned by one project.
type ParentTicket struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"projectId"`
	Instruction   string        `json:"instruction"`
	Title         string        `json:"title"`
	Status        Status        `json:"status"`
	ChildTickets  []ChildTicket `json:"childTickets"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Hierarchy is the full snapshot for one project, as persisted at
// tickets/<projectId>.json.
type Hierarchy struct {
	ProjectID     string         `json:"projectId"`
	ParentTickets []ParentTicket `json:"parentTickets"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// ID shape regexes, per §3: parent <project>-NNNN, child <parent>-NN, grandchild <child>-NNN.
var (
	parentIDRe     = regexp.MustCompile(`^(.+)-(\d{4})$`)
	childIDRe      = regexp.MustCompile(`^(.+-\d{4})-(\d{2})$`)
	grandchildIDRe = regexp.MustCompile(`^(.+-\d{4}-\d{2})-(\d{3})$`)
)

// Level identifies which tier of the tree an ID belongs to.
type Level int

const (
	LevelUnknown Level = iota
	LevelParent
	LevelChild
	LevelGrandchild
)

// IDLevel classifies id by matching it against exactly one of the three
// level regexes, per invariant 1 in spec §8 ("every ticket ID matches
// exactly one level regex").
func IDLevel(id string) Level {
	switch {
	case grandchildIDRe.MatchString(id):
		return LevelGrandchild
	case childIDRe.MatchString(id):
		return LevelChild
	case parentIDRe.MatchString(id):
		return LevelParent
	default:
		return LevelUnknown
	}
}

// nowFunc is overridable in tests.
var nowFunc = time.Now

// NewHierarchy constructs a new, empty hierarchy for a project, validating
// the project ID is non-empty.
func NewHierarchy(projectID string) (*Hierarchy, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID must not be empty", taxonomy.ErrInvalidInput)
	}
	return &Hierarchy{ProjectID: projectID, LastUpdated: nowFunc()}, nil
}

// nextSequence returns the next zero-padded sequence number for a slice of
// existing sibling IDs sharing the same prefix, per §4.4 ("Sequence numbers
// are per-parent, monotonically increasing, zero-padded").
func nextSequence(existingCount int, width int) string {
	return fmt.Sprintf("%0*d", width, existingCount+1)
}

// AddParent creates and appends a new ParentTicket, validating project ID,
// instruction, and title are non-empty (§4.4 creation validators).
func (h *Hierarchy) AddParent(instruction, title string) (*ParentTicket, error) {
	if h.ProjectID == "" {
		return nil, fmt.Errorf("%w: hierarchy has no projectID", taxonomy.ErrInvalidInput)
	}
	if instruction == "" {
		return nil, fmt.Errorf("%w: instruction must not be empty", taxonomy.ErrInvalidInput)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", taxonomy.ErrInvalidInput)
	}

	seq := nextSequence(len(h.ParentTickets), 4)
	now := nowFunc()
	p := ParentTicket{
		ID:          fmt.Sprintf("%s-%s", h.ProjectID, seq),
		ProjectID:   h.ProjectID,
		Instruction: instruction,
		Title:       title,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	h.ParentTickets = append(h.ParentTickets, p)
	h.LastUpdated = now
	return &h.ParentTickets[len(h.ParentTickets)-1], nil
}

// AddChild appends a ChildTicket under parentID, validating title and worker type.
func (h *Hierarchy) AddChild(parentID, title string, wt WorkerType) (*ChildTicket, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", taxonomy.ErrInvalidInput)
	}
	if !validWorkerTypes[wt] {
		return nil, fmt.Errorf("%w: invalid workerType %q", taxonomy.ErrInvalidInput, wt)
	}
	parent := h.findParent(parentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent ticket %q", taxonomy.ErrNotFound, parentID)
	}

	seq := nextSequence(len(parent.ChildTickets), 2)
	now := nowFunc()
	c := ChildTicket{
		ID:         fmt.Sprintf("%s-%s", parent.ID, seq),
		Title:      title,
		Status:     StatusPending,
		WorkerType: wt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	parent.ChildTickets = append(parent.ChildTickets, c)
	h.LastUpdated = now
	return &parent.ChildTickets[len(parent.ChildTickets)-1], nil
}

// AddGrandchild appends a GrandchildTicket under childID.
func (h *Hierarchy) AddGrandchild(childID, title string, acceptanceCriteria []string) (*GrandchildTicket, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", taxonomy.ErrInvalidInput)
	}
	_, child := h.findChild(childID)
	if child == nil {
		return nil, fmt.Errorf("%w: child ticket %q", taxonomy.ErrNotFound, childID)
	}

	seq := nextSequence(len(child.GrandchildTickets), 3)
	now := nowFunc()
	g := GrandchildTicket{
		ID:                 fmt.Sprintf("%s-%s", child.ID, seq),
		Title:              title,
		Status:             StatusPending,
		AcceptanceCriteria: acceptanceCriteria,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	child.GrandchildTickets = append(child.GrandchildTickets, g)
	h.LastUpdated = now
	return &child.GrandchildTickets[len(child.GrandchildTickets)-1], nil
}

func (h *Hierarchy) findParent(id string) *ParentTicket {
	for i := range h.ParentTickets {
		if h.ParentTickets[i].ID == id {
			return &h.ParentTickets[i]
		}
	}
	return nil
}

func (h *Hierarchy) findChild(id string) (*ParentTicket, *ChildTicket) {
	for i := range h.ParentTickets {
		p := &h.ParentTickets[i]
		for j := range p.ChildTickets {
			if p.ChildTickets[j].ID == id {
				return p, &p.ChildTickets[j]
			}
		}
	}
	return nil, nil
}

func (h *Hierarchy) findGrandchild(id string) (*ChildTicket, *GrandchildTicket) {
	for i := range h.ParentTickets {
		p := &h.ParentTickets[i]
		for j := range p.ChildTickets {
			c := &p.ChildTickets[j]
			for k := range c.GrandchildTickets {
				if c.GrandchildTickets[k].ID == id {
					return c, &c.GrandchildTickets[k]
				}
			}
		}
	}
	return nil, nil
}

// UpdateTicketStatus sets the status of the ticket at any level identified
// by id, bumping UpdatedAt, and then propagates the change upward.
func (h *Hierarchy) UpdateTicketStatus(id string, status Status) error {
	now := nowFunc()
	switch IDLevel(id) {
	case LevelParent:
		p := h.findParent(id)
		if p == nil {
			return fmt.Errorf("%w: parent ticket %q", taxonomy.ErrNotFound, id)
		}
		p.Status = status
		p.UpdatedAt = now
		return nil
	case LevelChild:
		_, c := h.findChild(id)
		if c == nil {
			return fmt.Errorf("%w: child ticket %q", taxonomy.ErrNotFound, id)
		}
		c.Status = status
		c.UpdatedAt = now
		return h.PropagateStatusToParent(id)
	case LevelGrandchild:
		c, g := h.findGrandchild(id)
		if g == nil {
			return fmt.Errorf("%w: grandchild ticket %q", taxonomy.ErrNotFound, id)
		}
		g.Status = status
		g.UpdatedAt = now
		if err := h.recomputeChildStatus(c); err != nil {
			return err
		}
		return h.PropagateStatusToParent(c.ID)
	default:
		return fmt.Errorf("%w: id %q does not match any ticket level", taxonomy.ErrInvalidInput, id)
	}
}

// derivedStatus implements the propagation rule of spec §3 for a set of
// child statuses: all-completed ⇒ completed; any-failed ⇒ failed; any
// in_progress|review_requested ⇒ in_progress; any decomposing ⇒ decomposing;
// otherwise unchanged (returns ok=false).
func derivedStatus(children []Status) (Status, bool) {
	if len(children) == 0 {
		return "", false
	}
	allCompleted := true
	anyFailed := false
	anyActive := false
	anyDecomposing := false
	for _, s := range children {
		if s != StatusCompleted {
			allCompleted = false
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s == StatusInProgress || s == StatusReviewRequested {
			anyActive = true
		}
		if s == StatusDecomposing {
			anyDecomposing = true
		}
	}
	switch {
	case allCompleted:
		return StatusCompleted, true
	case anyFailed:
		return StatusFailed, true
	case anyActive:
		return StatusInProgress, true
	case anyDecomposing:
		return StatusDecomposing, true
	default:
		return "", false
	}
}

// recomputeChildStatus derives c's status from its grandchildren and writes
// it if changed. It always returns nil.
func (h *Hierarchy) recomputeChildStatus(c *ChildTicket) error {
	statuses := make([]Status, len(c.GrandchildTickets))
	for i := range c.GrandchildTickets {
		statuses[i] = c.GrandchildTickets[i].Status
	}
	if derived, ok := derivedStatus(statuses); ok && derived != c.Status {
		c.Status = derived
		c.UpdatedAt = nowFunc()
	}
	return nil
}

// PropagateStatusToParent applies the §3 rule starting at the ticket owning
// childOrGrandchildID and climbs to the root, stopping as soon as a level's
// status does not change (idempotent propagation, invariant 2 in §8).
func (h *Hierarchy) PropagateStatusToParent(id string) error {
	parent, child := h.findChild(id)
	if parent == nil || child == nil {
		// id may itself be a grandchild ID; resolve its owning child by
		// walking every child's GrandchildTickets.
		for i := range h.ParentTickets {
			p := &h.ParentTickets[i]
			for j := range p.ChildTickets {
				c := &p.ChildTickets[j]
				for k := range c.GrandchildTickets {
					if c.GrandchildTickets[k].ID == id {
						parent, child = p, c
					}
				}
			}
		}
	}
	if parent == nil {
		return fmt.Errorf("%w: no parent owns ticket %q", taxonomy.ErrNotFound, id)
	}

	statuses := make([]Status, len(parent.ChildTickets))
	for i := range parent.ChildTickets {
		statuses[i] = parent.ChildTickets[i].Status
	}
	derived, ok := derivedStatus(statuses)
	if !ok || derived == parent.Status {
		return nil // no change, propagation stops here (idempotent)
	}
	parent.Status = derived
	parent.UpdatedAt = nowFunc()
	_ = child // child already applied by caller; parent is the only level left to update.
	return nil
}

// FindParent, FindChild, FindGrandchild are read accessors used by callers
// (e.g. the WorkflowEngine) that need a ticket without mutating it.
func (h *Hierarchy) FindParent(id string) (*ParentTicket, bool) {
	p := h.findParent(id)
	return p, p != nil
}

func (h *Hierarchy) FindChild(id string) (*ChildTicket, bool) {
	_, c := h.findChild(id)
	return c, c != nil
}

func (h *Hierarchy) FindGrandchild(id string) (*GrandchildTicket, bool) {
	_, g := h.findGrandchild(id)
	return g, g != nil
}

// ListParents, ListChildren, ListGrandchildren support the "list" half of
// §4.4's create/get/list contract.
func (h *Hierarchy) ListParents() []ParentTicket { return h.ParentTickets }

func (h *Hierarchy) ListChildren(parentID string) ([]ChildTicket, error) {
	p := h.findParent(parentID)
	if p == nil {
		return nil, fmt.Errorf("%w: parent ticket %q", taxonomy.ErrNotFound, parentID)
	}
	return p.ChildTickets, nil
}

func (h *Hierarchy) ListGrandchildren(childID string) ([]GrandchildTicket, error) {
	_, c := h.findChild(childID)
	if c == nil {
		return nil, fmt.Errorf("%w: child ticket %q", taxonomy.ErrNotFound, childID)
	}
	return c.GrandchildTickets, nil
}
