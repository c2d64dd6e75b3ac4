package model

import (
	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
	"github.com/LeonardoBeccarini/farmtech/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Area           = entities.Area
	Sensor         = entities.Sensor
	Adjustment     = entities.Adjustment
	WeatherContext = entities.WeatherContext
	PumpState      = entities.PumpState

	SensorData              = messages.SensorData
	IrrigationDecisionEvent = messages.IrrigationDecisionEvent
	AdjustmentEvent         = messages.AdjustmentEvent
	LinkStatusEvent         = messages.LinkStatusEvent
	PumpCommandMessage      = messages.PumpCommandMessage
)

const (
	PumpOn  = entities.PumpOn
	PumpOff = entities.PumpOff
)
