package probers

import (
	"encoding/json"
	"fmt"

	"github.com/fxnlabs/hwrt/internal/gpu"
)

// decodePayload converts the loosely typed request payload into dst. A nil
// payload leaves dst untouched.
func decodePayload(payload interface{}, dst interface{}) error {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// selectDevices resolves a device selector. A nil selector means every
// device.
func selectDevices(m *gpu.Manager, device *int) ([]int, error) {
	if device == nil {
		all := make([]int, m.NumDevices())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if *device < 0 || *device >= m.NumDevices() {
		return nil, fmt.Errorf("device %d out of range, %d devices discovered", *device, m.NumDevices())
	}
	return []int{*device}, nil
}
