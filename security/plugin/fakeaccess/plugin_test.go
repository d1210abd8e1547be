package fakeaccess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

func TestDefaultAttributesApplyWithoutRule(t *testing.T) {
	p := New(
		plugin.SecurityAttributes{Security: plugin.AttrValid | plugin.AttrIsDiscoveryProtected},
		plugin.SecurityAttributes{Security: plugin.AttrValid | plugin.AttrIsSubmessageProtected},
		nil,
	)
	h, err := p.ValidateLocalPermissions(handle.Handle(1), 0, "", "")
	require.NoError(t, err)

	attrs, err := p.GetEndpointSecAttributes(h, plugin.Writer, "any/topic", nil)
	require.NoError(t, err)
	assert.Equal(t, plugin.AttrValid|plugin.AttrIsSubmessageProtected, attrs.Security)
}

func TestRuleOverridesAndDenies(t *testing.T) {
	p := New(plugin.SecurityAttributes{}, plugin.SecurityAttributes{}, []Rule{
		{Topic: "secret/topic", Deny: true},
		{Topic: "payload/topic", Attrs: plugin.SecurityAttributes{Security: plugin.AttrValid | plugin.AttrIsPayloadProtected}},
	})
	h, err := p.ValidateLocalPermissions(handle.Handle(1), 0, "", "")
	require.NoError(t, err)

	ok, err := p.CheckCreateEndpoint(h, plugin.Writer, "secret/topic", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	attrs, err := p.GetEndpointSecAttributes(h, plugin.Writer, "payload/topic", nil)
	require.NoError(t, err)
	assert.Equal(t, plugin.AttrIsPayloadProtected, attrs.Security&plugin.AttrIsPayloadProtected)
}

func TestUnknownPermissionsHandleRejected(t *testing.T) {
	p := New(plugin.SecurityAttributes{}, plugin.SecurityAttributes{}, nil)
	_, err := p.GetPermissionsToken(handle.Handle(999))
	assert.Error(t, err)
}
