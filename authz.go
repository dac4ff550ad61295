package accounting

// Attribute-based access control: a store of Policy records, each scoped
// to a resource type and an optional set of attribute matchers, evaluated
// with deny-override: any matching Deny beats every matching Permit,
// whatever their priorities. Matches are sorted highest priority first, so
// the Deny that is reported is the highest-priority one.

import (
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
)

type PolicyEffect string

const (
	Permit PolicyEffect = "PERMIT"
	Deny   PolicyEffect = "DENY"
)

// ResourceConditions narrows a policy to a subset of the accounts or entry
// types it applies to, beyond the blanket ResourceType/Action match.
type ResourceConditions struct {
	AccountIDs        []string      `json:"account_ids,omitempty"`
	AccountRangeFrom  string        `json:"account_range_from,omitempty"`
	AccountRangeTo    string        `json:"account_range_to,omitempty"`
	AccountTypes      []AccountType `json:"account_types,omitempty"`
	Intercompany      *bool         `json:"intercompany,omitempty"`
	JournalEntryTypes []string      `json:"journal_entry_types,omitempty"`
	OwnEntryOnly      bool          `json:"own_entry_only,omitempty"`
}

// EnvironmentConditions gates a policy on when and from where the request
// is made, independent of who is asking or what they're asking for.
type EnvironmentConditions struct {
	TimeWindowStart string        `json:"time_window_start,omitempty"` // "HH:MM", compared in RequestTime's own location
	TimeWindowEnd   string        `json:"time_window_end,omitempty"`
	AllowedWeekdays []time.Weekday `json:"allowed_weekdays,omitempty"`
	AllowedCIDRs    []string      `json:"allowed_cidrs,omitempty"`
}

// Policy is one ABAC rule: if ResourceType, Action, every attribute
// matcher, every resource condition, and every environment condition align
// with the request, Effect applies.
type Policy struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	ResourceType   string            `json:"resource_type" validate:"required"`
	Action         string            `json:"action" validate:"required"`
	Effect         PolicyEffect      `json:"effect" validate:"required"`
	Priority       int               `json:"priority"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Resource       *ResourceConditions    `json:"resource,omitempty"`
	Environment    *EnvironmentConditions `json:"environment,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
}

// AccessRequest describes the subject/resource/action/environment tuple to
// be authorized against the policy set.
type AccessRequest struct {
	OrganizationID string
	ResourceType   string
	Action         string
	SubjectAttrs   map[string]string
	// ResourceAttrs carries the attributes ResourceConditions match against:
	// "account_id", "account_number", "account_type", "intercompany"
	// ("true"/"false"), "journal_entry_type", "is_own_entry" ("true"/"false").
	ResourceAttrs map[string]string
	RequestTime   time.Time
	ClientIP      string
}

// DenialRecord captures why a request was denied, for audit purposes.
type DenialRecord struct {
	Request   AccessRequest `json:"request"`
	PolicyID  string        `json:"policy_id,omitempty"`
	Reason    string        `json:"reason"`
	DeniedAt  time.Time     `json:"denied_at"`
}

// DenialSink receives a record of every denied access request.
type DenialSink interface {
	RecordDenial(DenialRecord)
}

// auditDenialSink routes policy denials into the same audit trail every
// other domain action records into.
type auditDenialSink struct {
	audit *AuditSink
}

// NewAuditDenialSink adapts an AuditSink into a DenialSink.
func NewAuditDenialSink(audit *AuditSink) DenialSink {
	return &auditDenialSink{audit: audit}
}

func (a *auditDenialSink) RecordDenial(rec DenialRecord) {
	a.audit.Record(AuditEvent{
		Action:   "authorization.denied",
		EntityID: rec.PolicyID,
		UserID:   rec.Request.SubjectAttrs["user_id"],
	})
}

// AuthorizationEngine evaluates AccessRequests against the stored
// policies for an organization.
type AuthorizationEngine struct {
	storage *Storage
	denials DenialSink
}

// NewAuthorizationEngine wires an authorization engine.
func NewAuthorizationEngine(storage *Storage, denials DenialSink) *AuthorizationEngine {
	return &AuthorizationEngine{storage: storage, denials: denials}
}

// CreatePolicy persists a new policy.
func (a *AuthorizationEngine) CreatePolicy(p *Policy) (*Policy, error) {
	p.ID = uuid.New().String()
	p.Active = true
	p.CreatedAt = time.Now()
	if err := a.storage.SavePolicy(p); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	return p, nil
}

// Authorize evaluates every active policy matching the request's resource
// type and action, sorted by priority descending, and returns nil if
// permitted or a *DomainError carrying ErrPolicyDenied otherwise. Absent
// any matching policy, the request is denied by default (fail closed).
func (a *AuthorizationEngine) Authorize(req AccessRequest) error {
	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now()
	}

	policies, err := a.storage.GetPoliciesByOrganization(req.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	var matching []*Policy
	for _, p := range policies {
		if !p.Active {
			continue
		}
		if p.ResourceType != req.ResourceType || p.Action != req.Action {
			continue
		}
		if !attributesMatch(p.Attributes, req.SubjectAttrs) {
			continue
		}
		if !resourceMatches(p.Resource, req.ResourceAttrs) {
			continue
		}
		if !environmentMatches(p.Environment, req.RequestTime, req.ClientIP) {
			continue
		}
		matching = append(matching, p)
	}

	// Priority descending, ties broken by createdAt ascending (the older
	// policy wins a tie) - sort.SliceStable so two policies of equal
	// priority AND equal CreatedAt (e.g. backfilled fixtures) keep the
	// order they were loaded from storage in, rather than an arbitrary one.
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority > matching[j].Priority
		}
		return matching[i].CreatedAt.Before(matching[j].CreatedAt)
	})

	// Deny-override: a matching Deny wins outright, whatever the priority of
	// any matching Permit; scanning highest priority first only decides
	// which Deny is reported.
	for _, p := range matching {
		if p.Effect == Deny {
			a.recordDenial(req, p.ID, fmt.Sprintf("denied by policy %s", p.Name))
			return newDomainErr(ErrPolicyDenied, fmt.Sprintf("denied by policy %s", p.Name))
		}
	}
	for _, p := range matching {
		if p.Effect == Permit {
			return nil
		}
	}

	a.recordDenial(req, "", "no matching policy, default deny")
	return newDomainErr(ErrPolicyDenied, "no policy permits this action")
}

func (a *AuthorizationEngine) recordDenial(req AccessRequest, policyID, reason string) {
	if a.denials == nil {
		return
	}
	a.denials.RecordDenial(DenialRecord{Request: req, PolicyID: policyID, Reason: reason, DeniedAt: time.Now()})
}

// attributesMatch reports whether every key/value pair the policy
// requires is present and equal in the subject's attributes. A policy
// with no attribute requirements matches any subject.
func attributesMatch(required, actual map[string]string) bool {
	for k, v := range required {
		if actual[k] != v {
			return false
		}
	}
	return true
}

// resourceMatches reports whether a request's resource attributes satisfy
// a policy's resource conditions. A nil ResourceConditions matches any
// resource.
func resourceMatches(cond *ResourceConditions, attrs map[string]string) bool {
	if cond == nil {
		return true
	}
	if len(cond.AccountIDs) > 0 && !containsString(cond.AccountIDs, attrs["account_id"]) {
		return false
	}
	if cond.AccountRangeFrom != "" || cond.AccountRangeTo != "" {
		num := attrs["account_number"]
		if num == "" {
			return false
		}
		if cond.AccountRangeFrom != "" && num < cond.AccountRangeFrom {
			return false
		}
		if cond.AccountRangeTo != "" && num > cond.AccountRangeTo {
			return false
		}
	}
	if len(cond.AccountTypes) > 0 {
		match := false
		for _, t := range cond.AccountTypes {
			if string(t) == attrs["account_type"] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if cond.Intercompany != nil && (attrs["intercompany"] == "true") != *cond.Intercompany {
		return false
	}
	if len(cond.JournalEntryTypes) > 0 && !containsString(cond.JournalEntryTypes, attrs["journal_entry_type"]) {
		return false
	}
	if cond.OwnEntryOnly && attrs["is_own_entry"] != "true" {
		return false
	}
	return true
}

// environmentMatches reports whether the request's time and origin satisfy
// a policy's environment conditions. A nil EnvironmentConditions matches
// any environment.
func environmentMatches(cond *EnvironmentConditions, requestTime time.Time, clientIP string) bool {
	if cond == nil {
		return true
	}
	if cond.TimeWindowStart != "" && cond.TimeWindowEnd != "" {
		current := requestTime.Format("15:04")
		if current < cond.TimeWindowStart || current > cond.TimeWindowEnd {
			return false
		}
	}
	if len(cond.AllowedWeekdays) > 0 {
		allowed := false
		for _, d := range cond.AllowedWeekdays {
			if d == requestTime.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if len(cond.AllowedCIDRs) > 0 {
		ip := net.ParseIP(clientIP)
		if ip == nil {
			return false
		}
		allowed := false
		for _, cidr := range cond.AllowedCIDRs {
			_, network, err := net.ParseCIDR(cidr)
			if err == nil && network.Contains(ip) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
