// Package libvirt connects to the local libvirt daemon and exposes the two
// questions vmkeep asks of it: which VMs are defined, and what a VM's
// domain definition is.
//
// Connection Management:
//
//	client, err := libvirt.Connect(ctx, libvirt.Options{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	inv := libvirt.NewInventory(client.Libvirt())
//	names, err := inv.ListNames(ctx)
//
// Consumer-Side Interfaces:
//
// DomainAPI lists only the calls the inventory makes. *libvirt.Libvirt
// satisfies it implicitly, and tests substitute a mock.
package libvirt
