package rtl

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ScanRuntime = "rtl_power"

	BinWidthMin = 1
	BinWidthMax = 2_800_000
)

// ScanConfig is the `rtl_power` configuration for a single-shot band sweep.
type ScanConfig struct {
	// Required
	FrequencyStart int64 `yaml:"frequencyStart"` // -f lower bound (Hz)
	FrequencyEnd   int64 `yaml:"frequencyEnd"`   // -f upper bound (Hz)
	BinWidth       int64 `yaml:"binWidth"`       // -f bin size (valid range 1Hz - 2.8MHz)

	// Integration interval per sweep (default: 10 seconds)
	Interval TimeDuration `yaml:"interval"`

	DeviceIndex int     `yaml:"deviceIndex"` // -d device_index (default: 0)
	Gain        float64 `yaml:"gain"`        // -g tuner_gain (default: automatic)
	PPMError    int     `yaml:"ppmError"`    // -p ppm_error (default: 0)

	// Crop fraction of each bin's edges, recommended 0.2-0.5
	Crop float32 `yaml:"crop"` // -c crop_percent

	BiasTee bool `yaml:"biasTee"` // -T enable bias-tee
}

func (c *ScanConfig) Validate() error {
	if c.FrequencyStart <= 0 {
		return fmt.Errorf("rtl.ScanConfig: frequency start must be positive: %d", c.FrequencyStart)
	}
	if c.FrequencyEnd <= 0 {
		return fmt.Errorf("rtl.ScanConfig: frequency end must be positive: %d", c.FrequencyEnd)
	}
	if c.FrequencyEnd <= c.FrequencyStart {
		return fmt.Errorf("rtl.ScanConfig: frequency end must be greater than start: %d <= %d", c.FrequencyEnd, c.FrequencyStart)
	}

	if c.BinWidth < BinWidthMin || c.BinWidth > BinWidthMax {
		return fmt.Errorf("rtl.ScanConfig: invalid bin width: %d, must be between %d and %d Hz", c.BinWidth, BinWidthMin, BinWidthMax)
	}

	if c.Interval > 0 {
		if err := c.Interval.Validate(); err != nil {
			return fmt.Errorf("rtl.ScanConfig: invalid interval: %w", err)
		}
	}

	if c.Crop < 0 || c.Crop > 1 {
		return fmt.Errorf("rtl.ScanConfig: crop percent must be between 0 and 1: %0.2f given", c.Crop)
	}

	return nil
}

// Args returns the command line arguments for a single-shot `rtl_power` run.
// See `man rtl_power` for more information:
// https://manpages.debian.org/bookworm/rtl-sdr/rtl_power.1.en.html
func (c *ScanConfig) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-f", fmt.Sprintf("%d:%d:%d",
			c.FrequencyStart,
			c.FrequencyEnd,
			c.BinWidth),
	}

	if c.Interval > 0 {
		args = append(args, "-i", c.Interval.String())
	}

	args = append(args, "-1") // single shot, exit after one sweep

	args = append(args, "-d", strconv.Itoa(c.DeviceIndex))

	if c.Gain > 0 {
		args = append(args, "-g", strconv.FormatFloat(c.Gain, 'f', 1, 64))
	}

	if c.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(c.PPMError))
	}

	if c.Crop > 0 {
		args = append(args, "-c", strconv.FormatFloat(float64(c.Crop), 'f', 2, 32))
	}

	if c.BiasTee {
		args = append(args, "-T")
	}

	args = append(args, "-") // dump CSV to stdout

	return args, nil
}

func (c *ScanConfig) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("rtl.ScanConfig: failed to build args: %s", err)
	}
	return fmt.Sprintf("%s %s", ScanRuntime, strings.Join(args, " "))
}
