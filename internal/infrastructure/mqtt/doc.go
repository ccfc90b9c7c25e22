// Package mqtt bridges device connection status and performance samples to
// an MQTT broker, and accepts device commands from it.
//
// # Topics
//
//	devportal/status/{device}    retained ConnectionStatusEvent JSON
//	devportal/sysperf/{device}   SystemPerformance JSON, not retained
//	devportal/command/{device}   {"command":"connect"|"restart"|...}
//	devportal/system/status      retained online/offline with LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // run without a broker
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.DeviceStatus("lab-07"), evt, true)
//
// Handlers passed to Subscribe are wrapped with panic recovery.
package mqtt
