// Package fakeaccess is an in-process AccessControl plugin for the demo
// harness and package tests. Rather than parsing governance/permissions
// XML (the real plugin's job, out of scope here — see SPEC_FULL.md §10),
// it holds the same decisions as plain Go data: a default
// SecurityAttributes pair and an optional per-topic override table,
// modeled on the teacher's config package's "defaults plus explicit
// override map" shape.
package fakeaccess

import (
	"sync"
	"sync/atomic"

	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

// Rule overrides the default attributes for one topic/partition
// combination. Topic is matched exactly; Partitions, if non-empty, must
// all be present in the caller's partition list.
type Rule struct {
	Topic      string
	Partitions []string
	Attrs      plugin.SecurityAttributes
	Deny       bool
}

type permRecord struct {
	domainID uint32
}

// Plugin implements plugin.AccessControl.
type Plugin struct {
	mu                 sync.Mutex
	next               int64
	permissions        map[handle.Handle]*permRecord
	defaultParticipant plugin.SecurityAttributes
	defaultEndpoint    plugin.SecurityAttributes
	rules              []Rule
}

// New returns a plugin that grants defaultParticipant/defaultEndpoint
// attributes to everything not matched by an entry in rules.
func New(defaultParticipant, defaultEndpoint plugin.SecurityAttributes, rules []Rule) *Plugin {
	return &Plugin{
		permissions:        make(map[handle.Handle]*permRecord),
		defaultParticipant: defaultParticipant,
		defaultEndpoint:    defaultEndpoint,
		rules:              rules,
	}
}

func (p *Plugin) alloc() handle.Handle {
	return handle.Handle(atomic.AddInt64(&p.next, 1))
}

func (p *Plugin) ValidateLocalPermissions(localIdentityHandle handle.Handle, domainID uint32, permissionsPath, governancePath string) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.alloc()
	p.permissions[h] = &permRecord{domainID: domainID}
	return h, nil
}

func (p *Plugin) GetPermissionsToken(localPermissionsHandle handle.Handle) (plugin.Token, error) {
	if err := p.requireKnown(localPermissionsHandle); err != nil {
		return plugin.Token{}, err
	}
	return plugin.Token{Class: "DDS:Access:Fake-Governance:1.0"}, nil
}

func (p *Plugin) GetPermissionsCredentialToken(localPermissionsHandle handle.Handle) (plugin.Token, error) {
	if err := p.requireKnown(localPermissionsHandle); err != nil {
		return plugin.Token{}, err
	}
	return plugin.Token{Class: "DDS:Access:Fake-PermissionsCredential:1.0"}, nil
}

func (p *Plugin) ValidateRemotePermissions(localIdentityHandle, remoteIdentityHandle handle.Handle, remotePermissions, remoteCredential plugin.Token) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.alloc()
	p.permissions[h] = &permRecord{}
	return h, nil
}

func (p *Plugin) CheckCreateParticipant(localIdentityHandle handle.Handle, domainID uint32) (bool, error) {
	return true, nil
}

func (p *Plugin) CheckRemoteParticipant(remotePermissionsHandle handle.Handle, domainID uint32) (bool, error) {
	if err := p.requireKnown(remotePermissionsHandle); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) CheckCreateEndpoint(localPermissionsHandle handle.Handle, kind plugin.EndpointKind, topicName string, partitions []string) (bool, error) {
	rule := p.match(topicName, partitions)
	return rule == nil || !rule.Deny, nil
}

func (p *Plugin) CheckRemoteEndpoint(remotePermissionsHandle handle.Handle, kind plugin.EndpointKind, topicName string, partitions []string) (bool, error) {
	if err := p.requireKnown(remotePermissionsHandle); err != nil {
		return false, err
	}
	rule := p.match(topicName, partitions)
	return rule == nil || !rule.Deny, nil
}

func (p *Plugin) GetParticipantSecAttributes(localPermissionsHandle handle.Handle) (plugin.SecurityAttributes, error) {
	if err := p.requireKnown(localPermissionsHandle); err != nil {
		return plugin.SecurityAttributes{}, err
	}
	return p.defaultParticipant, nil
}

func (p *Plugin) GetEndpointSecAttributes(localPermissionsHandle handle.Handle, kind plugin.EndpointKind, topicName string, partitions []string) (plugin.SecurityAttributes, error) {
	if err := p.requireKnown(localPermissionsHandle); err != nil {
		return plugin.SecurityAttributes{}, err
	}
	if rule := p.match(topicName, partitions); rule != nil {
		return rule.Attrs, nil
	}
	return p.defaultEndpoint, nil
}

func (p *Plugin) ReturnPermissionsHandle(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.permissions, h)
	return nil
}

func (p *Plugin) requireKnown(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.permissions[h]; !ok {
		return errs.New(errs.KindPermissionsRejected, "unknown permissions handle", nil)
	}
	return nil
}

func (p *Plugin) match(topic string, partitions []string) *Rule {
	for i := range p.rules {
		r := &p.rules[i]
		if r.Topic != topic {
			continue
		}
		if !subset(r.Partitions, partitions) {
			continue
		}
		return r
	}
	return nil
}

func subset(need, have []string) bool {
	for _, n := range need {
		found := false
		for _, h := range have {
			if n == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var _ plugin.AccessControl = (*Plugin)(nil)
