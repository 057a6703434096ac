package libvirt

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// ErrNotConnected is returned by an Inventory with no daemon connection.
var ErrNotConnected = errors.New("libvirt not connected")

// DomainAPI defines the libvirt operations the inventory needs.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type DomainAPI interface {
	// ConnectListAllDomains lists defined domains
	ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainGetXMLDesc returns a domain definition
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
}

// Inventory answers which VMs exist and what their definitions are.
type Inventory struct {
	api DomainAPI
}

// NewInventory creates an inventory over api. A nil api yields an inventory
// whose every call fails with ErrNotConnected, which lets callers keep
// going when the daemon is unreachable.
func NewInventory(api DomainAPI) *Inventory {
	return &Inventory{api: api}
}

// ListNames returns the names of all defined VMs, running or stopped, in
// the order libvirt reports them.
func (i *Inventory) ListNames(_ context.Context) ([]string, error) {
	if i.api == nil {
		return nil, ErrNotConnected
	}

	// NeedResults: 1 means populate the domains slice
	// Flags: 0 means all domains (active and inactive)
	domains, _, err := i.api.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Name)
	}
	return names, nil
}

// DumpXML returns the persistent definition of the named VM.
func (i *Inventory) DumpXML(_ context.Context, name string) (string, error) {
	if i.api == nil {
		return "", ErrNotConnected
	}

	dom, err := i.api.DomainLookupByName(name)
	if err != nil {
		return "", fmt.Errorf("vm %q not found: %w", name, err)
	}

	xml, err := i.api.DomainGetXMLDesc(dom, libvirt.DomainXMLInactive)
	if err != nil {
		return "", fmt.Errorf("failed to get XML for vm %q: %w", name, err)
	}
	return xml, nil
}
