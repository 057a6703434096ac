package libvirt

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// mockDomainAPI is a mock implementation of DomainAPI for testing.
type mockDomainAPI struct {
	mu sync.Mutex

	// Configurable behavior
	connectListAllDomainsFunc func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	domainLookupByNameFunc    func(name string) (libvirt.Domain, error)
	domainGetXMLDescFunc      func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)

	// Call tracking
	connectListAllDomainsCalls int
	domainLookupByNameCalls    []string
	domainGetXMLDescCalls      []libvirt.DomainXMLFlags
}

// newMockDomainAPI returns a mock whose inventory holds the given domains,
// each with a minimal definition.
func newMockDomainAPI(names ...string) *mockDomainAPI {
	m := &mockDomainAPI{}

	m.connectListAllDomainsFunc = func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
		domains := make([]libvirt.Domain, 0, len(names))
		for _, n := range names {
			domains = append(domains, libvirt.Domain{Name: n})
		}
		return domains, uint32(len(domains)), nil
	}

	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		for _, n := range names {
			if n == name {
				return libvirt.Domain{Name: name}, nil
			}
		}
		return libvirt.Domain{}, fmt.Errorf("Domain not found: no domain with matching name '%s'", name)
	}

	m.domainGetXMLDescFunc = func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
		return fmt.Sprintf("<domain type='kvm'><name>%s</name></domain>", dom.Name), nil
	}

	return m
}

func (m *mockDomainAPI) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	m.connectListAllDomainsCalls++
	m.mu.Unlock()
	return m.connectListAllDomainsFunc(needResults, flags)
}

func (m *mockDomainAPI) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	m.domainLookupByNameCalls = append(m.domainLookupByNameCalls, name)
	m.mu.Unlock()
	return m.domainLookupByNameFunc(name)
}

func (m *mockDomainAPI) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	m.domainGetXMLDescCalls = append(m.domainGetXMLDescCalls, flags)
	m.mu.Unlock()
	return m.domainGetXMLDescFunc(dom, flags)
}
