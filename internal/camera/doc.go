// Package camera owns access to the physical cameras.
//
// It provides:
//   - Registry: cached device handles keyed by serial number, with
//     reconnect-or-evict lookup
//   - HardwareLock: the single process-wide gate every device command
//     passes through
//   - Service: the camera-level operations (listing, capture, board pose,
//     firmware) built on the two
//   - Closed lookup tables for capture presets, downsample factors and
//     frame formats
//
// The vendor SDK is reached only through the Driver, Device, Capturer,
// Detector and Firmware interfaces; internal/camera/sim implements them.
//
// # Locking
//
// Registry methods touch hardware and must be called with the
// HardwareLock held:
//
//	release, err := lock.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
//	dev, err := registry.Connected(ctx, serial)
//
// The registry additionally guards its map with its own mutex so a
// caller that breaks the rule corrupts no state, only the device.
package camera
