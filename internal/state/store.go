package state

import (
	"sync"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/modbus"
)

// Subscriber is notified after a device's state has been updated.
// Callbacks run synchronously on the updating goroutine.
type Subscriber func(mac string, st DeviceState)

// Store holds per-device state, created lazily on first update.
type Store struct {
	mu          sync.RWMutex
	devices     map[string]*DeviceState
	subscribers []Subscriber
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{devices: make(map[string]*DeviceState)}
}

// Subscribe registers a callback fired after every state update.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Get returns a copy of the device's current state.
func (s *Store) Get(mac string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.devices[mac]
	if !ok {
		return DeviceState{}, false
	}
	return *st, true
}

// MACs lists every device the store has seen.
func (s *Store) MACs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.devices))
	for mac := range s.devices {
		out = append(out, mac)
	}
	return out
}

// UpdateFromFrame merges a decoded frame into the device's state and
// notifies subscribers. Only fields backed by a register present in the
// frame change; the update timestamp advances monotonically.
//
// Parameters:
//   - mac: canonical device MAC
//   - frame: decoded register frame
//   - source: inbound topic, retained for observability
//   - wasCommandTriggered: whether a recent command provoked this frame
//
// Returns:
//   - DeviceState: a copy of the merged state
func (s *Store) UpdateFromFrame(mac string, frame modbus.Frame, source string, wasCommandTriggered bool) DeviceState {
	regs := normalizeRegisters(frame)

	s.mu.Lock()
	st, ok := s.devices[mac]
	if !ok {
		st = &DeviceState{MAC: mac}
		s.devices[mac] = st
	}

	applyRegisters(st, regs)

	if now := time.Now(); now.After(st.LastFullUpdate) {
		st.LastFullUpdate = now
	}
	st.LastUpdateSource = source
	st.LastUpdateKind = kindLabel(frame.Kind())
	st.LastUpdateWasCommandTriggered = wasCommandTriggered

	snapshot := *st
	subscribers := s.subscribers
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(mac, snapshot)
	}
	return snapshot
}

// normalizeRegisters maps a frame's registers onto absolute register
// numbers. Unchecksummed input frames carrying exactly two registers are
// the device's spontaneous status report, which always starts at
// register 40; their index keys are rebased accordingly.
func normalizeRegisters(frame modbus.Frame) map[int]uint16 {
	if frame.Checksummed || frame.FunctionCode != modbus.FuncReadInput || len(frame.Registers) != 2 {
		return frame.Registers
	}

	rebased := make(map[int]uint16, len(frame.Registers))
	for idx, v := range frame.Registers {
		rebased[40+idx] = v
	}
	return rebased
}

// applyRegisters merges register values into the state.
func applyRegisters(st *DeviceState, regs map[int]uint16) {
	// SOC: tenths-resolution register 56 wins over whole-percent
	// register 5 when both are present.
	if v, ok := regs[regSOCTenths]; ok {
		st.SOC = float64(v) / 10
	} else if v, ok := regs[regSOCPercent]; ok {
		st.SOC = float64(v)
	}

	for reg, v := range regs {
		switch reg {
		case regOutputBitfield:
			st.LEDOutput = v>>bitLEDOutput&1 == 1
			st.ACOutput = v>>bitACOutput&1 == 1
			st.DCOutput = v>>bitDCOutput&1 == 1
			st.USBOutput = v>>bitUSBOutput&1 == 1
		case regMaxChargingCurrent:
			st.MaxChargingCurrent = int(v)
		case regACSilentCharging:
			st.ACSilentCharging = v == 1
		case regUSBStandby:
			st.USBStandbyTime = int(v)
		case regACStandby:
			st.ACStandbyTime = int(v)
		case regDCStandby:
			st.DCStandbyTime = int(v)
		case regScreenRest:
			st.ScreenRestTime = int(v)
		case regACChargingTimer:
			st.ACChargingTimer = int(v)
		case regDischargeLimit:
			st.DischargeLowerLimit = float64(v) / 10
		case regACChargingLimit:
			st.ACChargingUpperLimit = float64(v) / 10
		case regSleepTime:
			st.SleepTime = int(v)
		case regInputWatts:
			st.InputWatts = int(v)
		case regOutputWatts:
			st.OutputWatts = int(v)
		case regDCInputWatts:
			st.DCInputWatts = int(v)
		}
	}
}

// kindLabel renders the register-type hint for logs and provenance.
func kindLabel(kind modbus.RegisterKind) string {
	if kind == modbus.KindHolding {
		return "holding"
	}
	return "input"
}
