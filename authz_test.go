package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDenialSink struct {
	denials []DenialRecord
}

func (r *recordingDenialSink) RecordDenial(rec DenialRecord) {
	r.denials = append(r.denials, rec)
}

func TestAuthorizeDefaultDenyWithNoMatchingPolicy(t *testing.T) {
	authz := NewAuthorizationEngine(newTestStorage(t), nil)
	err := authz.Authorize(AccessRequest{
		OrganizationID: "org-1",
		ResourceType:   "journal_entry",
		Action:         "post",
		SubjectAttrs:   map[string]string{"role": "clerk"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrPolicyDenied))
}

func TestAuthorizePermitWhenAttributesMatch(t *testing.T) {
	storage := newTestStorage(t)
	authz := NewAuthorizationEngine(storage, nil)

	_, err := authz.CreatePolicy(&Policy{
		OrganizationID: "org-1",
		Name:           "controllers can post",
		ResourceType:   "journal_entry",
		Action:         "post",
		Effect:         Permit,
		Priority:       10,
		Attributes:     map[string]string{"role": "controller"},
	})
	require.NoError(t, err)

	err = authz.Authorize(AccessRequest{
		OrganizationID: "org-1",
		ResourceType:   "journal_entry",
		Action:         "post",
		SubjectAttrs:   map[string]string{"role": "controller", "user_id": "u1"},
	})
	assert.NoError(t, err)

	err = authz.Authorize(AccessRequest{
		OrganizationID: "org-1",
		ResourceType:   "journal_entry",
		Action:         "post",
		SubjectAttrs:   map[string]string{"role": "clerk", "user_id": "u2"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrPolicyDenied))
}

func TestAuthorizeDenyOverridesHigherPriorityPermit(t *testing.T) {
	storage := newTestStorage(t)
	authz := NewAuthorizationEngine(storage, nil)

	_, err := authz.CreatePolicy(&Policy{
		OrganizationID: "org-1",
		Name:           "everyone can post",
		ResourceType:   "journal_entry",
		Action:         "post",
		Effect:         Permit,
		Priority:       1,
	})
	require.NoError(t, err)
	_, err = authz.CreatePolicy(&Policy{
		OrganizationID: "org-1",
		Name:           "suspended users denied",
		ResourceType:   "journal_entry",
		Action:         "post",
		Effect:         Deny,
		Priority:       0,
		Attributes:     map[string]string{"suspended": "true"},
	})
	require.NoError(t, err)

	err = authz.Authorize(AccessRequest{
		OrganizationID: "org-1",
		ResourceType:   "journal_entry",
		Action:         "post",
		SubjectAttrs:   map[string]string{"suspended": "true"},
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrPolicyDenied))
}

func TestAuthorizeDenyRoutesToConfiguredSink(t *testing.T) {
	storage := newTestStorage(t)
	sink := &recordingDenialSink{}
	authz := NewAuthorizationEngine(storage, sink)

	err := authz.Authorize(AccessRequest{
		OrganizationID: "org-1",
		ResourceType:   "journal_entry",
		Action:         "post",
		SubjectAttrs:   map[string]string{"user_id": "u1"},
	})
	require.Error(t, err)
	require.Len(t, sink.denials, 1)
	assert.Equal(t, "u1", sink.denials[0].Request.SubjectAttrs["user_id"])
}

func TestAttributesMatchEmptyRequirementsMatchAnySubject(t *testing.T) {
	assert.True(t, attributesMatch(nil, map[string]string{"role": "clerk"}))
	assert.False(t, attributesMatch(map[string]string{"role": "controller"}, map[string]string{"role": "clerk"}))
}
