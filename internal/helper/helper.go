// Package helper implements HelperLoader: ensuring a flash-programmer
// helper is running on the MCU, downloading it into RAM via
// internal/download when it isn't, and rebinding to the freshly
// re-enumerated device.
package helper

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"

	"github.com/simoninns/DomesdayDuplicator-firmware/internal/device"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/download"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/image"
)

// ErrNotInBootloader is returned when the target is in application
// mode: it can't be promoted to the flash-programmer without a
// physical mode-jumper change and power cycle.
var ErrNotInBootloader = errors.New("helper: device is in application mode; set the hardware mode jumper and power-cycle")

// ErrHelperImageMissing is returned when no helper image path was
// supplied. A path that can't be read gives a *FileIOError instead.
var ErrHelperImageMissing = errors.New("helper: flash-programmer image not found")

// ErrHelperNotEnumerated is returned when the helper never appeared
// on the bus within the rediscovery window.
var ErrHelperNotEnumerated = errors.New("helper: flash-programmer did not enumerate")

// defaultRediscoverAttempts and defaultRediscoverDelay implement the
// coarse re-enumeration wait Ensure falls back to when no Options are
// given: 10 attempts, 1 second apart, no backoff.
const (
	defaultRediscoverAttempts = 10
	defaultRediscoverDelay    = 1 * time.Second
)

// Options overrides Ensure's re-enumeration wait. The zero value picks
// the package defaults.
type Options struct {
	RediscoverAttempts int
	RediscoverDelay    time.Duration
}

func (o Options) orDefaults() Options {
	if o.RediscoverAttempts <= 0 {
		o.RediscoverAttempts = defaultRediscoverAttempts
	}
	if o.RediscoverDelay <= 0 {
		o.RediscoverDelay = defaultRediscoverDelay
	}
	return o
}

// FileIOError wraps a failure to read the helper image file.
type FileIOError struct {
	Path string
	Err  error
}

func (e *FileIOError) Error() string {
	return fmt.Sprintf("helper: read %s: %v", e.Path, e.Err)
}

func (e *FileIOError) Unwrap() error { return e.Err }

// Ensure returns a handle known to speak the flash-programmer
// protocol, starting from whatever mode rec is currently in:
//
//   - FlashProgrammer: returned as-is, zero transfers beyond the probe
//     that already classified it.
//   - Application or Unknown: ErrNotInBootloader, since neither can be
//     promoted.
//   - Bootloader: the helper image at imagePath is downloaded into
//     RAM, every handle in table is closed, and the bus is
//     rediscovered up to opts.RediscoverAttempts times (default 10),
//     opts.RediscoverDelay apart (default 1 second), until a
//     Cypress-vendor record probes as FlashProgrammer.
func Ensure(ctx *gousb.Context, table *device.Table, rec device.Record, imagePath string, opts Options) (*gousb.Device, error) {
	opts = opts.orDefaults()

	switch rec.Mode {
	case device.FlashProgrammer:
		return rec.Handle, nil
	case device.Application:
		return nil, ErrNotInBootloader
	case device.Bootloader:
		// fall through to the download path below
	default:
		return nil, ErrNotInBootloader
	}

	if imagePath == "" {
		return nil, ErrHelperImageMissing
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, &FileIOError{Path: imagePath, Err: err}
	}

	rd, err := image.NewReader(data)
	if err != nil {
		return nil, fmt.Errorf("helper: parsing %s: %w", imagePath, err)
	}

	xfer := device.NewTransfer(rec.Handle)
	if err := download.New(xfer).Download(rd); err != nil {
		return nil, fmt.Errorf("helper: downloading %s: %w", imagePath, err)
	}

	// The target re-enumerates on a new USB address after the jump.
	// Every handle we hold is now stale; drop them all before waiting.
	table.Shutdown()

	for attempt := 0; attempt < opts.RediscoverAttempts; attempt++ {
		time.Sleep(opts.RediscoverDelay)

		n, err := table.Discover(ctx)
		if err != nil || n < 0 {
			continue
		}

		for i := 0; i < n; i++ {
			candidate, err := table.Get(i)
			if err != nil {
				continue
			}
			if candidate.VID == device.VendorCypress && candidate.Mode == device.FlashProgrammer {
				return candidate.Handle, nil
			}
		}
	}

	return nil, ErrHelperNotEnumerated
}
