package probers

import (
	"fmt"

	"github.com/fxnlabs/hwrt/internal/driver"
	"github.com/fxnlabs/hwrt/internal/gpu"
	"go.uber.org/zap"
)

const maxProbeEvents = 1 << 16

// EventPoolRequest selects the device and how many event slots to draw.
type EventPoolRequest struct {
	Device int `json:"device"`
	Events int `json:"events"`
}

// EventPoolResult describes the slots handed out during the probe.
type EventPoolResult struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
	Events   int    `json:"events"`
	// Pools is the number of distinct native pools the slots came from.
	Pools       int    `json:"pools"`
	LastOrdinal uint32 `json:"lastOrdinal"`
}

// EventPoolProber draws event slots from one device's event pool manager
// and releases them once all were handed out.
type EventPoolProber struct {
	manager *gpu.Manager
}

func NewEventPoolProber(m *gpu.Manager) *EventPoolProber {
	return &EventPoolProber{manager: m}
}

func (p *EventPoolProber) Execute(payload interface{}, log *zap.Logger) (interface{}, error) {
	var req EventPoolRequest
	if err := decodePayload(payload, &req); err != nil {
		log.Error("Failed to decode event pool probe payload", zap.Error(err))
		return nil, err
	}
	devices, err := selectDevices(p.manager, &req.Device)
	if err != nil {
		return nil, err
	}
	if req.Events <= 0 || req.Events > maxProbeEvents {
		return nil, fmt.Errorf("events must be between 1 and %d", maxProbeEvents)
	}

	index := devices[0]
	epm, err := p.manager.EventPoolManager(index)
	if err != nil {
		return nil, err
	}

	held := make([]*gpu.EventPool, 0, req.Events)
	defer func() {
		for _, pool := range held {
			pool.Release()
		}
	}()

	pools := make(map[driver.EventPoolHandle]struct{})
	res := EventPoolResult{ID: p.manager.DeviceID(index).String(), Capacity: epm.Capacity()}
	for i := 0; i < req.Events; i++ {
		pool, ordinal, err := epm.AllocateEvent()
		if err != nil {
			return nil, err
		}
		held = append(held, pool)
		pools[pool.Handle()] = struct{}{}
		res.LastOrdinal = ordinal
		res.Events++
	}
	res.Pools = len(pools)

	log.Debug("Event pool probe finished", zap.String("device", res.ID), zap.Int("events", res.Events), zap.Int("pools", res.Pools))
	return res, nil
}
