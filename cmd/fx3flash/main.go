// Command fx3flash lists Domesday Duplicator MCU candidates on the
// USB bus and drives the two-stage provisioning protocol against one
// of them: a RAM-only firmware upload, or an EEPROM program/verify
// pass via the flash-programmer helper.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/gousb"

	"github.com/simoninns/DomesdayDuplicator-firmware/internal/config"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/device"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/download"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/fwpath"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/helper"
	"github.com/simoninns/DomesdayDuplicator-firmware/internal/image"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = runList(args)
	case "upload":
		err = runUpload(args)
	case "program":
		err = runProgram(args)
	case "reset":
		err = runReset(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("fx3flash: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fx3flash <list|upload|program|reset> [flags]")
}

func openContext() (*gousb.Context, *device.Table, int, error) {
	ctx := gousb.NewContext()
	table := &device.Table{}
	n, err := table.Discover(ctx)
	if err != nil {
		ctx.Close()
		return nil, nil, 0, err
	}
	return ctx, table, n, nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	ctx, table, n, err := openContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	defer table.Shutdown()

	if n <= 0 {
		fmt.Println("no candidate devices found")
		return nil
	}
	for i := 0; i < n; i++ {
		rec, err := table.Get(i)
		if err != nil {
			continue
		}
		fmt.Printf("%d: vid=%#04x pid=%#04x bus=%d addr=%d mode=%s\n",
			rec.Index, uint16(rec.VID), uint16(rec.PID), rec.Bus, rec.Address, rec.Mode)
	}
	return nil
}

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	index := fs.Int("index", 0, "device table index from `list`")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("upload: image path required")
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("upload: reading %s: %w", path, err)
	}
	rd, err := image.NewReader(data)
	if err != nil {
		return fmt.Errorf("upload: parsing %s: %w", path, err)
	}

	ctx, table, _, err := openContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	defer table.Shutdown()

	rec, err := table.Get(*index)
	if err != nil {
		return err
	}

	cfg := config.Load()
	xfer := device.NewTransferWithTimeout(rec.Handle, cfg.ControlTimeout)
	if err := download.New(xfer).Download(rd); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	fmt.Println("upload complete")
	return nil
}

func runProgram(args []string) error {
	fs := flag.NewFlagSet("program", flag.ExitOnError)
	index := fs.Int("index", 0, "device table index from `list`")
	helperPath := fs.String("helper", "", "flash-programmer helper image (default: FX3_FLASH_PROG or a candidate search path)")
	cfg := config.Load()
	verify := fs.Bool("verify", cfg.VerifyByDefault, "read back and compare every window after writing it")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("program: image path required")
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("program: reading %s: %w", path, err)
	}

	imgPath := *helperPath
	if imgPath == "" {
		found, ok := fwpath.Locate()
		if !ok {
			return fmt.Errorf("program: no flash-programmer helper image found; set %s or pass -helper", fwpath.EnvOverride)
		}
		imgPath = found
	}

	ctx, table, _, err := openContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	defer table.Shutdown()

	rec, err := table.Get(*index)
	if err != nil {
		return err
	}

	dev, err := helper.Ensure(ctx, table, rec, imgPath, helper.Options{
		RediscoverAttempts: cfg.RediscoverAttempts,
		RediscoverDelay:    cfg.RediscoverDelay,
	})
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}

	xfer := device.NewTransferWithTimeout(dev, cfg.ControlTimeout)
	eio := device.NewEepromIO(xfer)
	if err := eio.Program(data, *verify); err != nil {
		return fmt.Errorf("program: %w", err)
	}

	fmt.Println("program complete")
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	index := fs.Int("index", 0, "device table index from `list`")
	fs.Parse(args)

	ctx, table, _, err := openContext()
	if err != nil {
		return err
	}
	defer ctx.Close()
	defer table.Shutdown()

	if _, err := table.Get(*index); err != nil {
		return err
	}

	// Resetting a device back to its power-on mode requires either the
	// hardware mode jumper or a re-plug; there's no vendor request for
	// it, so this is documentation, not an operation.
	fmt.Println("reset: no software reset available; power-cycle or re-plug the device")
	return nil
}
