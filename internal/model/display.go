package model

// DisplayState is a condition shown on the station's operator display.
type DisplayState string

const (
	DisplayReady                 DisplayState = "ready"
	DisplayBusy                  DisplayState = "busy"
	DisplayUndocked              DisplayState = "undocked"
	DisplayUnavailable           DisplayState = "unavailable"
	DisplayUnserialized          DisplayState = "unserialized"
	DisplayConfigurationError    DisplayState = "configuration_error"
	DisplayReturnEquipment       DisplayState = "return_equipment"
	DisplayUnsupportedInstrument DisplayState = "unsupported_instrument"
	DisplayInstrumentNoSerial    DisplayState = "instrument_no_serial"
	DisplaySensorError           DisplayState = "sensor_error"
	DisplayNoSensors             DisplayState = "no_sensors"
	DisplayNoEnabledSensors      DisplayState = "no_enabled_sensors"
	DisplayInsufficientSensors   DisplayState = "insufficient_sensors"
	DisplayFirmwareUpgradeFailed DisplayState = "firmware_upgrade_failed"
	DisplaySystemAlarm           DisplayState = "system_alarm"
	DisplayNotReady              DisplayState = "not_ready"
	DisplayHardwareConfigError   DisplayState = "hardware_config_error"
	DisplayFlowFault             DisplayState = "flow_fault"
	DisplayTubingFault           DisplayState = "tubing_fault"
	DisplayLowBattery            DisplayState = "low_battery"
	DisplayChargingError         DisplayState = "charging_error"
	DisplayPoweringOff           DisplayState = "powering_off"
)

// ChargingState is the charging monitor's view of the docked instrument's battery.
type ChargingState string

const (
	ChargingNotCharging     ChargingState = "not_charging"
	ChargingCharging        ChargingState = "charging"
	ChargingTopping         ChargingState = "topping_off"
	ChargingComplete        ChargingState = "complete"
	ChargingLowBatteryRetry ChargingState = "low_battery_retry"
	ChargingError           ChargingState = "error"
)
