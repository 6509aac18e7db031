package osmosdr

import (
	"context"
	"strings"
	"time"

	"github.com/CellWizard/gr-osmosdr/internal/discover"
	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// DeviceInfo names one openable device and the argument string that
// selects it.
type DeviceInfo struct {
	Args  string
	Label string
}

// Devices enumerates selectable sources. The locally attached board and
// the simulator are always listed; a positive browse duration also
// sweeps mDNS for network-attached units.
func Devices(browse time.Duration) []DeviceInfo {
	devs := []DeviceInfo{
		{Args: "bladerf=0", Label: "Nuand bladeRF #0"},
		{Args: "sim", Label: "Simulated bladeRF"},
	}
	if browse <= 0 {
		return devs
	}

	ctx, cancel := context.WithTimeout(context.Background(), browse)
	defer cancel()

	hosts, err := discover.Browse(ctx)
	if err != nil {
		logging.Default().Warn("device discovery failed", logging.Err(err))
		return devs
	}
	for _, h := range hosts {
		label := h.Instance
		if label == "" {
			label = strings.TrimSuffix(h.Hostname, ".")
		}
		sel := "bladerf=0"
		if serial := h.Serial(); serial != "" {
			sel = "bladerf=" + serial
		}
		devs = append(devs, DeviceInfo{Args: sel, Label: label})
	}
	return devs
}
