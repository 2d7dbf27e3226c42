package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/state"
)

// statePayload is the JSON shape published on fossibot/<MAC>/state.
type statePayload struct {
	SOC                  float64 `json:"soc"`
	USBOutput            bool    `json:"usbOutput"`
	ACOutput             bool    `json:"acOutput"`
	DCOutput             bool    `json:"dcOutput"`
	LEDOutput            bool    `json:"ledOutput"`
	MaxChargingCurrent   int     `json:"maxChargingCurrent"`
	ACSilentCharging     bool    `json:"acSilentCharging"`
	USBStandbyTime       int     `json:"usbStandbyTime"`
	ACStandbyTime        int     `json:"acStandbyTime"`
	DCStandbyTime        int     `json:"dcStandbyTime"`
	ScreenRestTime       int     `json:"screenRestTime"`
	ACChargingTimer      int     `json:"acChargingTimer"`
	DischargeLowerLimit  float64 `json:"dischargeLowerLimit"`
	ACChargingUpperLimit float64 `json:"acChargingUpperLimit"`
	SleepTime            int     `json:"sleepTime"`
	InputWatts           int     `json:"inputWatts"`
	OutputWatts          int     `json:"outputWatts"`
	DCInputWatts         int     `json:"dcInputWatts"`
	Timestamp            string  `json:"timestamp"`
}

// StateJSON serialises a device state for the local broker: a flat
// camelCase object with an ISO-8601 timestamp.
func StateJSON(st state.DeviceState) ([]byte, error) {
	ts := st.LastFullUpdate
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(statePayload{
		SOC:                  st.SOC,
		USBOutput:            st.USBOutput,
		ACOutput:             st.ACOutput,
		DCOutput:             st.DCOutput,
		LEDOutput:            st.LEDOutput,
		MaxChargingCurrent:   st.MaxChargingCurrent,
		ACSilentCharging:     st.ACSilentCharging,
		USBStandbyTime:       st.USBStandbyTime,
		ACStandbyTime:        st.ACStandbyTime,
		DCStandbyTime:        st.DCStandbyTime,
		ScreenRestTime:       st.ScreenRestTime,
		ACChargingTimer:      st.ACChargingTimer,
		DischargeLowerLimit:  st.DischargeLowerLimit,
		ACChargingUpperLimit: st.ACChargingUpperLimit,
		SleepTime:            st.SleepTime,
		InputWatts:           st.InputWatts,
		OutputWatts:          st.OutputWatts,
		DCInputWatts:         st.DCInputWatts,
		Timestamp:            ts.UTC().Format(time.RFC3339),
	})
}

// commandPayload is the JSON shape accepted on fossibot/<MAC>/command.
// Pointer fields distinguish "absent" from zero values.
type commandPayload struct {
	Action     string   `json:"action"`
	Amperes    *int     `json:"amperes"`
	Percentage *float64 `json:"percentage"`
	Enabled    *bool    `json:"enabled"`
	Minutes    *int     `json:"minutes"`
	Seconds    *int     `json:"seconds"`
	Start      *int     `json:"start"`
	Count      *int     `json:"count"`
}

// ParseCommand decodes a JSON command payload into a typed command.
// Unknown actions and missing or out-of-range arguments are rejected
// with InvalidArgument semantics.
func ParseCommand(payload []byte) (command.Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return command.Command{}, fmt.Errorf("%w: %w", command.ErrInvalidArgument, err)
	}
	if p.Action == "" {
		return command.Command{}, fmt.Errorf("%w: missing action", command.ErrInvalidArgument)
	}

	switch p.Action {
	case "usb_on":
		return command.NewOutputToggle("usb", true)
	case "usb_off":
		return command.NewOutputToggle("usb", false)
	case "ac_on":
		return command.NewOutputToggle("ac", true)
	case "ac_off":
		return command.NewOutputToggle("ac", false)
	case "dc_on":
		return command.NewOutputToggle("dc", true)
	case "dc_off":
		return command.NewOutputToggle("dc", false)
	case "led_on":
		return command.NewOutputToggle("led", true)
	case "led_off":
		return command.NewOutputToggle("led", false)

	case "read_settings":
		return command.NewReadSettings(), nil

	case "read_holding_registers":
		if p.Start == nil || p.Count == nil {
			return command.Command{}, fmt.Errorf("%w: read_holding_registers requires start and count", command.ErrInvalidArgument)
		}
		return command.NewReadHoldingRegisters(*p.Start, *p.Count)

	case "set_charging_current":
		if p.Amperes == nil {
			return command.Command{}, fmt.Errorf("%w: set_charging_current requires amperes", command.ErrInvalidArgument)
		}
		return command.NewMaxChargingCurrent(*p.Amperes)

	case "set_discharge_limit":
		if p.Percentage == nil {
			return command.Command{}, fmt.Errorf("%w: set_discharge_limit requires percentage", command.ErrInvalidArgument)
		}
		return command.NewDischargeLowerLimit(*p.Percentage)

	case "set_ac_charging_limit":
		if p.Percentage == nil {
			return command.Command{}, fmt.Errorf("%w: set_ac_charging_limit requires percentage", command.ErrInvalidArgument)
		}
		return command.NewACChargingUpperLimit(*p.Percentage)

	case "set_ac_silent_charging":
		if p.Enabled == nil {
			return command.Command{}, fmt.Errorf("%w: set_ac_silent_charging requires enabled", command.ErrInvalidArgument)
		}
		return command.NewACSilentCharging(*p.Enabled)

	case "set_usb_standby_time":
		if p.Minutes == nil {
			return command.Command{}, fmt.Errorf("%w: set_usb_standby_time requires minutes", command.ErrInvalidArgument)
		}
		return command.NewUSBStandby(*p.Minutes)

	case "set_ac_standby_time":
		if p.Minutes == nil {
			return command.Command{}, fmt.Errorf("%w: set_ac_standby_time requires minutes", command.ErrInvalidArgument)
		}
		return command.NewACStandby(*p.Minutes)

	case "set_dc_standby_time":
		if p.Minutes == nil {
			return command.Command{}, fmt.Errorf("%w: set_dc_standby_time requires minutes", command.ErrInvalidArgument)
		}
		return command.NewDCStandby(*p.Minutes)

	case "set_screen_rest_time":
		if p.Seconds == nil {
			return command.Command{}, fmt.Errorf("%w: set_screen_rest_time requires seconds", command.ErrInvalidArgument)
		}
		return command.NewScreenRest(*p.Seconds)

	case "set_ac_charging_timer":
		if p.Minutes == nil {
			return command.Command{}, fmt.Errorf("%w: set_ac_charging_timer requires minutes", command.ErrInvalidArgument)
		}
		return command.NewACChargingTimer(*p.Minutes)

	case "set_sleep_time":
		if p.Minutes == nil {
			return command.Command{}, fmt.Errorf("%w: set_sleep_time requires minutes", command.ErrInvalidArgument)
		}
		return command.NewSleepTime(*p.Minutes)

	default:
		return command.Command{}, fmt.Errorf("%w: unknown action %q", command.ErrInvalidArgument, p.Action)
	}
}
