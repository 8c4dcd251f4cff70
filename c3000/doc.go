// Package c3000 drives Tricontinent C-Series (C3000/C24000) syringe pumps
// over their ASCII DT command protocol.
//
// The package is layered:
//
//   - [Transport] is a byte-level half-duplex link to a pump daisy chain,
//     usually a serial port (see the serialport package) or a simulator
//     (see the pumpsim package).
//   - [Bus] serializes instruction/answer transactions on one link. The
//     bus lock is FIFO fair, so pumps sharing a chain cannot starve each
//     other.
//   - [Pump] is one addressed pump: transaction retries, status and fault
//     classification, volume/step conversion, initialization, velocity,
//     valve, motion and EEPROM operations.
//   - [Controller] coordinates a bank of pumps across one or more buses:
//     bank-wide initialization, synchronized moves, chunked transfers.
//
// Pumps report volumes in milliliters and plunger travel in steps; the
// conversion is fixed by the syringe volume and microstep mode given in
// [PumpConfig].
//
// All methods that talk to a device take a [context.Context]. Cancellation
// is honored between transactions and between status polls; a frame that
// is already on the wire always completes.
package c3000
