package rtl

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeDuration wraps time.Duration with the second-granularity YAML encoding
// the rtl-sdr tools expect for their interval arguments.
type TimeDuration time.Duration

func NewTimeDuration(d time.Duration) TimeDuration {
	return TimeDuration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("rtl.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Duration returns the wrapped time.Duration.
func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *TimeDuration) Validate() error {
	duration := time.Duration(*d)

	if duration < 0 {
		return fmt.Errorf("rtl.TimeDuration: must not be negative: %s", duration)
	}
	if duration > 0 && duration < time.Second {
		return fmt.Errorf("rtl.TimeDuration: must be at least 1 second: %s given", duration)
	}

	return nil
}

func (d TimeDuration) String() string {
	duration := time.Duration(d)
	if duration%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(duration/time.Hour))
	} else if duration%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(duration/time.Minute))
	} else {
		return fmt.Sprintf("%ds", int(duration/time.Second))
	}
}
