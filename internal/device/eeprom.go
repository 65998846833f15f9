package device

import "fmt"

// EEPROM protocol constants: a slave window is 64 KiB, addressed by
// an incrementing slave_base operand; pages are 64 bytes; transfers
// within a window are still capped at MaxTransferPayload.
const (
	WindowSize = 64 * 1024
	PageSize   = 64

	i2cWriteRequest = 0xBA
	i2cReadRequest  = 0xBB
)

// VerifyMismatchError reports a byte-for-byte mismatch between what
// was written and what the read-back returned.
type VerifyMismatchError struct {
	Slave  int
	Offset int
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("eeprom: verify mismatch at slave %d offset %d", e.Slave, e.Offset)
}

// EepromIO drives the helper's I2C write/read-verify vendor protocol.
type EepromIO struct {
	xfer ControlTransfer
}

// NewEepromIO builds an EepromIO on top of a FlashProgrammer handle's
// control transfer.
func NewEepromIO(xfer ControlTransfer) *EepromIO {
	return &EepromIO{xfer: xfer}
}

// Pad zero-pads data up to the nearest multiple of PageSize. An
// already page-aligned buffer is returned unchanged (not copied),
// satisfying the padding-idempotence property.
func Pad(data []byte) []byte {
	rem := len(data) % PageSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(PageSize-rem))
	copy(padded, data)
	return padded
}

// Program writes data (after padding) to the EEPROM, one 64 KiB slave
// window at a time in ascending slave_base order. When verify is true,
// each window is read back and compared immediately after it's
// written — a write/verify interleave, not a bulk-write-then-verify —
// before the next window is programmed.
func (e *EepromIO) Program(data []byte, verify bool) error {
	padded := Pad(data)

	slaveBase := 0
	for off := 0; off < len(padded); off += WindowSize {
		end := off + WindowSize
		if end > len(padded) {
			end = len(padded)
		}
		window := padded[off:end]

		if err := e.writeWindow(slaveBase, window); err != nil {
			return err
		}
		if verify {
			if err := e.verifyWindow(slaveBase, window); err != nil {
				return err
			}
		}
		slaveBase++
	}
	return nil
}

// Verify reads back the EEPROM and compares it against data (after
// padding) without writing anything first — the read-half of Program
// run in isolation.
func (e *EepromIO) Verify(data []byte) error {
	padded := Pad(data)

	slaveBase := 0
	for off := 0; off < len(padded); off += WindowSize {
		end := off + WindowSize
		if end > len(padded) {
			end = len(padded)
		}
		if err := e.verifyWindow(slaveBase, padded[off:end]); err != nil {
			return err
		}
		slaveBase++
	}
	return nil
}

func (e *EepromIO) writeWindow(slaveBase int, window []byte) error {
	addr := 0
	for addr < len(window) {
		n := len(window) - addr
		if n > MaxTransferPayload {
			n = MaxTransferPayload
		}
		chunk := window[addr : addr+n]

		op := fmt.Sprintf("eeprom-write-slave-%d", slaveBase)
		if err := e.xfer.ControlOut(op, slaveBase*WindowSize+addr, i2cWriteRequest, uint16(slaveBase), uint16(addr), chunk); err != nil {
			return err
		}
		addr += n
	}
	return nil
}

func (e *EepromIO) verifyWindow(slaveBase int, window []byte) error {
	addr := 0
	for addr < len(window) {
		n := len(window) - addr
		if n > MaxTransferPayload {
			n = MaxTransferPayload
		}
		want := window[addr : addr+n]

		op := fmt.Sprintf("eeprom-verify-slave-%d", slaveBase)
		got, err := e.xfer.ControlIn(op, slaveBase*WindowSize+addr, i2cReadRequest, uint16(slaveBase), uint16(addr), n)
		if err != nil {
			return err
		}

		for i := range want {
			if got[i] != want[i] {
				return &VerifyMismatchError{Slave: slaveBase, Offset: addr + i}
			}
		}
		addr += n
	}
	return nil
}
