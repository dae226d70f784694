package rtl

import (
	"fmt"
	"strconv"
	"strings"
)

const FMRuntime = "rtl_fm"

// FMConfig is the `rtl_fm` configuration for the narrow-band FM front end
// feeding a sonde decoder.
type FMConfig struct {
	Frequency  int64 `yaml:"frequency"`  // -f tuned frequency (Hz)
	SampleRate int   `yaml:"sampleRate"` // -s output sample rate (Hz)

	DeviceIndex int     `yaml:"deviceIndex"` // -d device_index (default: 0)
	Gain        float64 `yaml:"gain"`        // -g tuner_gain (default: automatic)
	PPMError    int     `yaml:"ppmError"`    // -p ppm_error (default: 0)

	BiasTee bool `yaml:"biasTee"` // -T enable bias-tee
}

func (c *FMConfig) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("rtl.FMConfig: frequency must be positive: %d", c.Frequency)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("rtl.FMConfig: sample rate must be positive: %d", c.SampleRate)
	}

	return nil
}

// Args returns the command line arguments for `rtl_fm`.
func (c *FMConfig) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-M", "fm",
		"-f", strconv.FormatInt(c.Frequency, 10),
		"-s", strconv.Itoa(c.SampleRate),
	}

	args = append(args, "-d", strconv.Itoa(c.DeviceIndex))

	if c.Gain > 0 {
		args = append(args, "-g", strconv.FormatFloat(c.Gain, 'f', 1, 64))
	}

	if c.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(c.PPMError))
	}

	if c.BiasTee {
		args = append(args, "-T")
	}

	return args, nil
}

func (c *FMConfig) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("rtl.FMConfig: failed to build args: %s", err)
	}
	return fmt.Sprintf("%s %s", FMRuntime, strings.Join(args, " "))
}
