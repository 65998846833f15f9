package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// Capacity is the fixed size of the device table, matching the
// original's fixed-size global array.
const Capacity = 16

// Vendor/product allow-list for discovery: the MCU vendor (any
// product — bootloader, helper, or application firmware all answer
// under this VID), plus the Domesday Duplicator's dedicated
// application-mode VID/PID.
const (
	VendorCypress   = gousb.ID(0x04B4)
	VendorDomesday  = gousb.ID(0x1D50)
	ProductDomesday = gousb.ID(0x603B)
)

// ErrInvalidDeviceIndex is returned by Get when index doesn't
// name a slot in the current table.
var ErrInvalidDeviceIndex = errors.New("devicetable: invalid device index")

// Record is one discovered candidate device.
type Record struct {
	Handle  *gousb.Device
	VID     gousb.ID
	PID     gousb.ID
	Bus     int
	Address int
	Mode    Mode
	Index   int
}

// Table is the sole owner of every open USB handle the core holds. No
// other component opens or closes a *gousb.Device directly.
type Table struct {
	mu      sync.Mutex
	records []Record
}

func matchesAllowlist(vid, pid gousb.ID) bool {
	if vid == VendorCypress {
		return true
	}
	return vid == VendorDomesday && pid == ProductDomesday
}

// Discover enumerates the bus, opens every allow-listed candidate (up
// to Capacity — extra matches are closed immediately and skipped),
// probes each one's mode, and replaces the table. Any handles from a
// previous Discover are closed first. It returns the number of
// records kept, or a negative count (with an empty table) if
// enumeration itself failed.
func (t *Table) Discover(ctx *gousb.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeAllLocked()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return matchesAllowlist(desc.Vendor, desc.Product)
	})
	if err != nil {
		return -1, fmt.Errorf("devicetable: enumerate: %w", err)
	}

	for _, d := range devs {
		if len(t.records) >= Capacity {
			d.Close()
			continue
		}

		xfer := NewTransfer(d)
		mode := Probe(d, xfer)

		t.records = append(t.records, Record{
			Handle:  d,
			VID:     d.Desc.Vendor,
			PID:     d.Desc.Product,
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			Mode:    mode,
			Index:   len(t.records),
		})
	}

	return len(t.records), nil
}

// Get returns the record at index in the current table.
func (t *Table) Get(index int) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.records) {
		return Record{}, ErrInvalidDeviceIndex
	}
	return t.records[index], nil
}

// Len returns the number of records currently held.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Shutdown closes every open handle exactly once and empties the
// table.
func (t *Table) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeAllLocked()
}

func (t *Table) closeAllLocked() {
	for _, r := range t.records {
		if r.Handle != nil {
			r.Handle.Close()
		}
	}
	t.records = nil
}
