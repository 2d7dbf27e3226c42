package state

import "time"

// Register assignments on the device's Modbus map. Settings live in
// holding registers; live measurements arrive as input registers.
const (
	regDCInputWatts       = 4
	regSOCPercent         = 5
	regInputWatts         = 6
	regMaxChargingCurrent = 20
	regOutputWatts        = 39
	regOutputBitfield     = 41
	regSOCTenths          = 56
	regACSilentCharging   = 57
	regUSBStandby         = 59
	regACStandby          = 60
	regDCStandby          = 61
	regScreenRest         = 62
	regACChargingTimer    = 64
	regDischargeLimit     = 66
	regACChargingLimit    = 67
	regSleepTime          = 68
)

// Output bitfield positions in register 41 (LSB = bit 0).
const (
	bitLEDOutput = 3
	bitACOutput  = 4
	bitDCOutput  = 5
	bitUSBOutput = 6
)

// DeviceState is the merged view of one device. Zero values mean the
// matching register has not been seen yet.
type DeviceState struct {
	MAC string

	// SOC is the battery state of charge in percent. Register 56
	// (tenths resolution) is preferred over register 5 when both appear
	// in the same frame.
	SOC float64

	// Output switches, decoded from the register 41 bitfield.
	USBOutput bool
	ACOutput  bool
	DCOutput  bool
	LEDOutput bool

	// Settings registers.
	MaxChargingCurrent   int     // amperes
	ACSilentCharging     bool
	USBStandbyTime       int     // minutes
	ACStandbyTime        int     // minutes
	DCStandbyTime        int     // minutes
	ScreenRestTime       int     // seconds
	ACChargingTimer      int     // minutes
	DischargeLowerLimit  float64 // percent
	ACChargingUpperLimit float64 // percent
	SleepTime            int     // minutes

	// Live measurements.
	InputWatts   int
	OutputWatts  int
	DCInputWatts int

	// Update provenance.
	LastFullUpdate                time.Time
	LastUpdateSource              string
	LastUpdateKind                string // "holding" or "input"
	LastUpdateWasCommandTriggered bool
}
