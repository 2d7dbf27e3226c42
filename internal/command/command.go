package command

import (
	"fmt"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/modbus"
)

// Device registers addressed by commands.
const (
	// RegMaxChargingCurrent sets the AC charging current in amperes (1-20).
	RegMaxChargingCurrent = 20

	// RegUSBOutput, RegDCOutput, RegACOutput and RegLEDOutput toggle the
	// four output circuits (0/1).
	RegUSBOutput = 24
	RegDCOutput  = 25
	RegACOutput  = 26
	RegLEDOutput = 27

	// RegACSilentCharging enables reduced-noise AC charging (0/1).
	RegACSilentCharging = 57

	// RegUSBStandby, RegACStandby and RegDCStandby set the per-output
	// standby timers in minutes.
	RegUSBStandby = 59
	RegACStandby  = 60
	RegDCStandby  = 61

	// RegScreenRest sets the display timeout in seconds.
	RegScreenRest = 62

	// RegACChargingTimer sets the AC charging timer in minutes.
	RegACChargingTimer = 64

	// RegDischargeLowerLimit and RegACChargingUpperLimit hold percentages
	// in tenths (0-1000).
	RegDischargeLowerLimit  = 66
	RegACChargingUpperLimit = 67

	// RegSleepTime sets the whole-unit sleep timer in minutes.
	RegSleepTime = 68
)

// percentScale converts a user-facing percentage into the tenths the
// device stores for registers 66 and 67.
const percentScale = 10

// ResponseClass describes how the device answers a command.
type ResponseClass int

const (
	// Immediate commands (output toggles) are answered on the
	// .../client/04 response topic.
	Immediate ResponseClass = iota

	// Delayed commands (settings writes) surface only in the next
	// spontaneous update or explicit read.
	Delayed

	// ReadResponse commands are register read requests.
	ReadResponse
)

// String returns the class name for logging.
func (c ResponseClass) String() string {
	switch c {
	case Immediate:
		return "immediate"
	case Delayed:
		return "delayed"
	case ReadResponse:
		return "read_response"
	default:
		return "unknown"
	}
}

// Command is a validated, encodable device command.
type Command struct {
	// Register is the target register for writes, or the start register
	// for reads.
	Register int

	// Value is the register value for writes, or the register count for
	// reads.
	Value uint16

	// Read marks register read requests (function code 0x03/0x04).
	Read bool

	// Holding selects the holding bank for read requests.
	Holding bool

	// Class is the response class.
	Class ResponseClass

	// Description is a short human-readable label for logging.
	Description string
}

// Bytes encodes the command into its 8-byte wire frame.
func (c Command) Bytes() ([]byte, error) {
	if c.Read {
		return modbus.EncodeReadRange(c.Register, int(c.Value), c.Holding)
	}
	return modbus.EncodeWriteSingle(c.Register, c.Value)
}

// WritesSettingsRegister reports whether the command writes one of the
// settings registers, after which the bridge re-reads holding registers
// to pick up the applied value.
func (c Command) WritesSettingsRegister() bool {
	if c.Read {
		return false
	}
	switch c.Register {
	case RegMaxChargingCurrent, RegACSilentCharging,
		RegUSBStandby, RegACStandby, RegDCStandby, RegScreenRest,
		RegDischargeLowerLimit, RegACChargingUpperLimit, RegSleepTime:
		return true
	}
	return false
}

// outputRegisters maps output names to their toggle registers.
var outputRegisters = map[string]int{
	"usb": RegUSBOutput,
	"dc":  RegDCOutput,
	"ac":  RegACOutput,
	"led": RegLEDOutput,
}

// NewOutputToggle builds an on/off command for one of the four outputs
// ("usb", "dc", "ac", "led").
func NewOutputToggle(output string, on bool) (Command, error) {
	reg, ok := outputRegisters[output]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown output %q", ErrInvalidArgument, output)
	}

	value := uint16(0)
	verb := "off"
	if on {
		value = 1
		verb = "on"
	}

	return Command{
		Register:    reg,
		Value:       value,
		Class:       Immediate,
		Description: fmt.Sprintf("%s output %s", output, verb),
	}, nil
}

// NewMaxChargingCurrent sets the AC charging current (1-20 A).
func NewMaxChargingCurrent(amperes int) (Command, error) {
	if amperes < 1 || amperes > 20 {
		return Command{}, fmt.Errorf("%w: charging current %d A (must be 1-20)",
			ErrInvalidArgument, amperes)
	}
	return Command{
		Register:    RegMaxChargingCurrent,
		Value:       uint16(amperes),
		Class:       Delayed,
		Description: fmt.Sprintf("max charging current %d A", amperes),
	}, nil
}

// NewACSilentCharging enables or disables silent AC charging.
func NewACSilentCharging(enabled bool) (Command, error) {
	value := uint16(0)
	if enabled {
		value = 1
	}
	return Command{
		Register:    RegACSilentCharging,
		Value:       value,
		Class:       Delayed,
		Description: fmt.Sprintf("ac silent charging %t", enabled),
	}, nil
}

// NewDischargeLowerLimit sets the discharge lower limit as a percentage
// with 0.1 granularity (0.0-100.0).
func NewDischargeLowerLimit(percentage float64) (Command, error) {
	value, err := percentToTenths(percentage)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Register:    RegDischargeLowerLimit,
		Value:       value,
		Class:       Delayed,
		Description: fmt.Sprintf("discharge lower limit %.1f%%", percentage),
	}, nil
}

// NewACChargingUpperLimit sets the AC charging upper limit as a
// percentage with 0.1 granularity (0.0-100.0).
func NewACChargingUpperLimit(percentage float64) (Command, error) {
	value, err := percentToTenths(percentage)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Register:    RegACChargingUpperLimit,
		Value:       value,
		Class:       Delayed,
		Description: fmt.Sprintf("ac charging upper limit %.1f%%", percentage),
	}, nil
}

// percentToTenths validates a percentage and converts it to the tenths
// representation the device stores.
func percentToTenths(percentage float64) (uint16, error) {
	tenths := int(percentage*percentScale + 0.5)
	if percentage < 0 || tenths > 1000 {
		return 0, fmt.Errorf("%w: percentage %.1f (must be 0.0-100.0)",
			ErrInvalidArgument, percentage)
	}
	return uint16(tenths), nil
}

// Legal timer values per register. The device silently ignores anything
// else, so the constructors refuse them outright.
var (
	usbStandbyMinutes = []int{0, 3, 5, 10, 30}
	acStandbyMinutes  = []int{0, 480, 960, 1440}
	dcStandbyMinutes  = []int{0, 480, 960, 1440}
	screenRestSeconds = []int{0, 180, 300, 600, 1800}
	sleepMinutes      = []int{5, 10, 30, 480} // 0 is not a legal sleep value
)

func containsInt(allowed []int, v int) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// NewUSBStandby sets the USB standby timer (0, 3, 5, 10 or 30 minutes;
// 0 disables the timer).
func NewUSBStandby(minutes int) (Command, error) {
	if !containsInt(usbStandbyMinutes, minutes) {
		return Command{}, fmt.Errorf("%w: usb standby %d min (allowed %v)",
			ErrInvalidArgument, minutes, usbStandbyMinutes)
	}
	return Command{
		Register:    RegUSBStandby,
		Value:       uint16(minutes),
		Class:       Delayed,
		Description: fmt.Sprintf("usb standby %d min", minutes),
	}, nil
}

// NewACStandby sets the AC standby timer (0, 480, 960 or 1440 minutes).
func NewACStandby(minutes int) (Command, error) {
	if !containsInt(acStandbyMinutes, minutes) {
		return Command{}, fmt.Errorf("%w: ac standby %d min (allowed %v)",
			ErrInvalidArgument, minutes, acStandbyMinutes)
	}
	return Command{
		Register:    RegACStandby,
		Value:       uint16(minutes),
		Class:       Delayed,
		Description: fmt.Sprintf("ac standby %d min", minutes),
	}, nil
}

// NewDCStandby sets the DC standby timer (0, 480, 960 or 1440 minutes).
func NewDCStandby(minutes int) (Command, error) {
	if !containsInt(dcStandbyMinutes, minutes) {
		return Command{}, fmt.Errorf("%w: dc standby %d min (allowed %v)",
			ErrInvalidArgument, minutes, dcStandbyMinutes)
	}
	return Command{
		Register:    RegDCStandby,
		Value:       uint16(minutes),
		Class:       Delayed,
		Description: fmt.Sprintf("dc standby %d min", minutes),
	}, nil
}

// NewScreenRest sets the display timeout (0, 180, 300, 600 or 1800
// seconds).
func NewScreenRest(seconds int) (Command, error) {
	if !containsInt(screenRestSeconds, seconds) {
		return Command{}, fmt.Errorf("%w: screen rest %d s (allowed %v)",
			ErrInvalidArgument, seconds, screenRestSeconds)
	}
	return Command{
		Register:    RegScreenRest,
		Value:       uint16(seconds),
		Class:       Delayed,
		Description: fmt.Sprintf("screen rest %d s", seconds),
	}, nil
}

// NewACChargingTimer sets the AC charging timer in minutes (0-1440;
// 0 disables it).
func NewACChargingTimer(minutes int) (Command, error) {
	if minutes < 0 || minutes > 1440 {
		return Command{}, fmt.Errorf("%w: ac charging timer %d min (must be 0-1440)",
			ErrInvalidArgument, minutes)
	}
	return Command{
		Register:    RegACChargingTimer,
		Value:       uint16(minutes),
		Class:       Delayed,
		Description: fmt.Sprintf("ac charging timer %d min", minutes),
	}, nil
}

// NewSleepTime sets the whole-unit sleep timer (5, 10, 30 or 480
// minutes; the device does not accept 0).
func NewSleepTime(minutes int) (Command, error) {
	if !containsInt(sleepMinutes, minutes) {
		return Command{}, fmt.Errorf("%w: sleep time %d min (allowed %v)",
			ErrInvalidArgument, minutes, sleepMinutes)
	}
	return Command{
		Register:    RegSleepTime,
		Value:       uint16(minutes),
		Class:       Delayed,
		Description: fmt.Sprintf("sleep time %d min", minutes),
	}, nil
}

// Registers read by the catalog's read commands. The devices expose 80
// registers per bank; reading the full bank keeps the decoder simple.
const readAllCount = 80

// NewReadSettings requests the full holding-register bank (settings).
func NewReadSettings() Command {
	return Command{
		Register:    0,
		Value:       readAllCount,
		Read:        true,
		Holding:     true,
		Class:       ReadResponse,
		Description: "read settings",
	}
}

// NewReadHoldingRegisters requests an arbitrary holding-register range.
func NewReadHoldingRegisters(start, count int) (Command, error) {
	if start < 0 || start > 0xFFFF {
		return Command{}, fmt.Errorf("%w: start register %d", ErrInvalidArgument, start)
	}
	if count < 1 || count > 0x7D {
		return Command{}, fmt.Errorf("%w: register count %d", ErrInvalidArgument, count)
	}
	return Command{
		Register:    start,
		Value:       uint16(count),
		Read:        true,
		Holding:     true,
		Class:       ReadResponse,
		Description: fmt.Sprintf("read holding registers %d+%d", start, count),
	}, nil
}
