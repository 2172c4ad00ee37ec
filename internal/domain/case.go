package domain

import (
	"strings"
	"time"
)

// Agency identifies the recipient of a case's request.
type Agency struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	PortalURL      string `json:"portal_url,omitempty"`
	PortalProvider string `json:"portal_provider,omitempty"`
}

// Case is the subject of automation: a single records request against
// a single agency.
type Case struct {
	ID              string        `json:"id"`
	Agency          Agency        `json:"agency"`
	JurisdictionCode string       `json:"jurisdiction_code"`
	Status          CaseStatus    `json:"status"`
	Substatus       string        `json:"substatus,omitempty"`
	PauseReason     PauseReason   `json:"pause_reason,omitempty"`
	Constraints     []string      `json:"constraints"`
	ScopeItems      []ScopeItem   `json:"scope_items"`
	NextDueAt       *time.Time    `json:"next_due_at,omitempty"`
	AutopilotMode   AutopilotMode `json:"autopilot_mode"`

	LastPortalSubmissionAt *time.Time `json:"last_portal_submission_at,omitempty"`
	LastPortalStatus       string     `json:"last_portal_status,omitempty"`
}

// HasPortal reports whether the case must be worked through a portal
// instead of email.
func (c *Case) HasPortal() bool { return c.Agency.PortalURL != "" }

// PortalAutomatable reports whether the portal provider is one the
// browser-automation collaborator (§6, external) knows how to drive.
// Absent a recognized provider, portal actions are never auto-selected.
func (c *Case) PortalAutomatable() bool {
	if !c.HasPortal() {
		return false
	}
	switch strings.ToLower(c.Agency.PortalProvider) {
	case "nextrequest", "govqa", "justfoia":
		return true
	default:
		return false
	}
}

// AddConstraint appends a constraint code if not already present.
// Returns whether the set changed.
func (c *Case) AddConstraint(code string) bool {
	for _, existing := range c.Constraints {
		if existing == code {
			return false
		}
	}
	c.Constraints = append(c.Constraints, code)
	return true
}

// HasConstraint reports whether the case carries the given constraint.
func (c *Case) HasConstraint(code string) bool {
	for _, existing := range c.Constraints {
		if existing == code {
			return true
		}
	}
	return false
}

// MergeScopeUpdate merges one scope item update by case-insensitive
// item key: new items are appended, existing items are overwritten
// field-wise. Returns whether the set changed.
func (c *Case) MergeScopeUpdate(update ScopeItem) bool {
	key := strings.ToLower(strings.TrimSpace(update.Item))
	for i := range c.ScopeItems {
		if strings.ToLower(strings.TrimSpace(c.ScopeItems[i].Item)) == key {
			changed := c.ScopeItems[i].Status != update.Status || c.ScopeItems[i].Reason != update.Reason
			if update.Status != "" {
				c.ScopeItems[i].Status = update.Status
			}
			if update.Reason != "" {
				c.ScopeItems[i].Reason = update.Reason
			}
			return changed
		}
	}
	c.ScopeItems = append(c.ScopeItems, update)
	return true
}

// ScopeItemStatusOf looks up the status of a scope item by
// case-insensitive name. The second return is false if absent.
func (c *Case) ScopeItemStatusOf(item string) (ScopeItemStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(item))
	for _, s := range c.ScopeItems {
		if strings.ToLower(strings.TrimSpace(s.Item)) == key {
			return s.Status, true
		}
	}
	return "", false
}
