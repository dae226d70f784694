package app

import (
	"errors"
	"flag"
)

const defaultFontPath = "/usr/share/fonts/truetype/dejavu/DejaVuSansMono.ttf"

type Config struct {
	DBPath        string
	OutputFile    string
	FontPath      string
	Sweeps        int
	MinPower      *float64
	MaxPower      *float64
	NoAnnotations bool
}

func NewConfigFromCLI() (*Config, error) {
	var c Config

	var minPower, maxPower float64
	flag.StringVar(&c.DBPath, "db", "", "Path to the flight log database")
	flag.StringVar(&c.OutputFile, "o", "waterfall.png", "Path to the output PNG file")
	flag.StringVar(&c.FontPath, "font", defaultFontPath, "Path to a TTF font used for annotations")
	flag.IntVar(&c.Sweeps, "n", 120, "Number of most recent sweeps to render")
	flag.Float64Var(&minPower, "min-power", 0, "Define a manual minimum power (format nn.n)")
	flag.Float64Var(&maxPower, "max-power", 0, "Define a manual maximum power (format nn.n)")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable frequency scale and info annotations")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "min-power" {
			c.MinPower = &minPower
		}
		if f.Name == "max-power" {
			c.MaxPower = &maxPower
		}
	})

	if c.DBPath == "" {
		return nil, errors.New("no database file provided")
	}
	if c.Sweeps <= 0 {
		return nil, errors.New("number of sweeps must be positive")
	}

	return &c, nil
}
