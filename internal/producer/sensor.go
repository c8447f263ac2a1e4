// Vitalstream - Reliable Vitals Telemetry Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalstream

package producer

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/tomtom215/vitalstream/internal/models"
)

// Sensor produces one reading for an entity.
type Sensor interface {
	Read(entity string, at time.Time) models.Reading
}

// SimulatedSensor generates plausible resting vitals.
type SimulatedSensor struct {
	Device string
}

// Read returns heart rate 60-100 bpm, SpO2 95-100 % and temperature
// 36.0-37.5 °C rounded to one decimal.
func (s SimulatedSensor) Read(entity string, at time.Time) models.Reading {
	return models.Reading{
		EntityID:    entity,
		HeartRate:   60 + rand.IntN(41),
		OxygenLevel: 95 + rand.IntN(6),
		Temp:        math.Round((36.0+rand.Float64()*1.5)*10) / 10,
		Device:      s.Device,
		GeneratedAt: at.UTC(),
	}
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func(entity string, at time.Time) models.Reading

func (f SensorFunc) Read(entity string, at time.Time) models.Reading { return f(entity, at) }
