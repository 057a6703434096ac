// Package disk extracts the ordered list of file-backed VM disk images from
// a libvirt domain definition.
package disk

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/vmkeep/internal/naming"
)

const (
	// DefaultBootOrder is assigned to disks without a usable boot order so
	// they sort after every explicitly ordered disk.
	DefaultBootOrder = 99

	// DefaultExtension is the managed image extension.
	DefaultExtension = "img"
)

// ErrNoDomainXML is returned when the input contains no domain element.
var ErrNoDomainXML = errors.New("no domain definition found")

// Descriptor describes one backup-eligible disk.
type Descriptor struct {
	BootOrder int    `json:"boot_order" yaml:"boot_order"`
	Path      string `json:"path" yaml:"path"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Discover returns the file-backed disks of domainXML whose source path
// carries the managed extension ext, sorted by boot order. Disks with equal
// boot order keep their document order.
//
// Malformed definitions are tolerated: when the strict parse fails the
// document is rescanned leniently and every disk decoded before the damage
// is returned. An error is returned only when no domain element is found.
func Discover(domainXML, ext string) ([]Descriptor, error) {
	var descs []Descriptor

	var dom libvirtxml.Domain
	if err := dom.Unmarshal(domainXML); err == nil {
		descs = fromDomain(&dom, ext)
	} else {
		lenient, scanErr := scanLenient(domainXML, ext)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to parse domain XML: %w", errors.Join(err, scanErr))
		}
		descs = lenient
	}

	sort.SliceStable(descs, func(i, j int) bool {
		return descs[i].BootOrder < descs[j].BootOrder
	})
	return descs, nil
}

// Primary returns the first disk in boot order.
func Primary(descs []Descriptor) (Descriptor, bool) {
	if len(descs) == 0 {
		return Descriptor{}, false
	}
	return descs[0], true
}

func fromDomain(dom *libvirtxml.Domain, ext string) []Descriptor {
	if dom.Devices == nil {
		return nil
	}

	var descs []Descriptor
	for _, d := range dom.Devices.Disks {
		if !isDiskDevice(d.Device) || d.Source == nil || d.Source.File == nil {
			continue
		}
		path := d.Source.File.File
		if !eligible(path, ext) {
			continue
		}

		desc := Descriptor{BootOrder: DefaultBootOrder, Path: path}
		if d.Boot != nil && d.Boot.Order > 0 {
			desc.BootOrder = int(d.Boot.Order)
		}
		if d.Target != nil {
			desc.Target = d.Target.Dev
		}
		descs = append(descs, desc)
	}
	return descs
}

// lenientDisk mirrors the parts of <disk> needed here, keeping every value
// as a string so no attribute can fail conversion.
type lenientDisk struct {
	Type   string `xml:"type,attr"`
	Device string `xml:"device,attr"`
	Source *struct {
		File string `xml:"file,attr"`
	} `xml:"source"`
	Target *struct {
		Dev string `xml:"dev,attr"`
	} `xml:"target"`
	Boot *struct {
		Order string `xml:"order,attr"`
	} `xml:"boot"`
}

func scanLenient(domainXML, ext string) ([]Descriptor, error) {
	dec := xml.NewDecoder(strings.NewReader(domainXML))
	dec.Strict = false

	var (
		descs      []Descriptor
		stack      []string
		seenDomain bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) || seenDomain {
				break
			}
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := el.Name.Local
			if len(stack) == 0 && name == "domain" {
				seenDomain = true
			}
			if name == "disk" && len(stack) == 2 && stack[0] == "domain" && stack[1] == "devices" {
				var ld lenientDisk
				if err := dec.DecodeElement(&ld, &el); err != nil {
					// Truncated inside this disk; keep what was decoded before it.
					return descs, nil
				}
				if desc, ok := ld.descriptor(ext); ok {
					descs = append(descs, desc)
				}
				continue
			}
			stack = append(stack, name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !seenDomain {
		return nil, ErrNoDomainXML
	}
	return descs, nil
}

func (ld lenientDisk) descriptor(ext string) (Descriptor, bool) {
	if ld.Type != "file" || !isDiskDevice(ld.Device) || ld.Source == nil {
		return Descriptor{}, false
	}
	if !eligible(ld.Source.File, ext) {
		return Descriptor{}, false
	}

	desc := Descriptor{BootOrder: DefaultBootOrder, Path: ld.Source.File}
	if ld.Boot != nil {
		if order, err := strconv.Atoi(strings.TrimSpace(ld.Boot.Order)); err == nil && order > 0 {
			desc.BootOrder = order
		}
	}
	if ld.Target != nil {
		desc.Target = ld.Target.Dev
	}
	return desc, true
}

// libvirt treats a missing device attribute as "disk".
func isDiskDevice(device string) bool {
	return device == "" || device == "disk"
}

func eligible(path, ext string) bool {
	return filepath.IsAbs(path) && naming.HasExtension(path, ext)
}
