// Package download drives a device.ControlTransfer to write a parsed
// firmware image into MCU RAM and jump to its entry point.
package download

import (
	"fmt"
	"log"

	"github.com/simoninns/DomesdayDuplicator-firmware/internal/device"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/image"
)

const ramWriteRequest = 0xA0

// Downloader writes every section of a parsed image to RAM in image
// order (ascending address within each section), then issues the
// entry-point jump.
type Downloader struct {
	xfer device.ControlTransfer
}

// New builds a Downloader over xfer.
func New(xfer device.ControlTransfer) *Downloader {
	return &Downloader{xfer: xfer}
}

// Download consumes rd's section stream in image order. A short
// section payload is a hard error. A buffer that runs out before an
// entry record is logged as a warning and returns nil — the image
// never reaches a jump, but that's the source's own silent-truncation
// behavior, not a download failure. A failed entry-point transfer is
// logged, not returned: the device is expected to detach immediately
// on a successful jump, so a late NAK there is normal.
func (d *Downloader) Download(rd *image.Reader) error {
	offset := 0

	for {
		sec, entry, truncated, err := rd.Next()
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if truncated {
			log.Printf("download: image ended before an entry record; device left without a jump target")
			return nil
		}
		if entry != nil {
			if err := d.jump(entry.Address); err != nil {
				log.Printf("download: entry-point transfer failed (device expected to detach): %v", err)
			}
			return nil
		}

		if err := d.writeSection(sec, &offset); err != nil {
			return err
		}
	}
}

func (d *Downloader) writeSection(sec *image.Section, offset *int) error {
	addr := sec.Address
	payload := sec.Payload

	for len(payload) > 0 {
		n := len(payload)
		if n > device.MaxTransferPayload {
			n = device.MaxTransferPayload
		}
		chunk := payload[:n]

		value := uint16(addr)
		index := uint16(addr >> 16)
		if err := d.xfer.ControlOut("ram-write", *offset, ramWriteRequest, value, index, chunk); err != nil {
			return err
		}

		addr += uint32(n)
		*offset += n
		payload = payload[n:]
	}
	return nil
}

func (d *Downloader) jump(entry uint32) error {
	value := uint16(entry)
	index := uint16(entry >> 16)
	return d.xfer.ControlOut("entry-jump", 0, ramWriteRequest, value, index, nil)
}
