package sdr

import (
	"fmt"
	"os/exec"
)

// FindRuntime resolves an external SDR tool (rtl_power, rtl_fm, sox, a sonde
// decoder) to an absolute path via PATH lookup.
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", runtime, err)
	}

	return binPath, nil
}
