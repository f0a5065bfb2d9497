package bench

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/measure"
	"github.com/pvlab/ivbench/smu"

	yml "gopkg.in/yaml.v2"
)

// EnvPrefix prefixes environment variables that override the config file,
// IVBENCH_SMU_ADDR overrides smu.addr for example
const EnvPrefix = "IVBENCH_"

// SMUConfig describes the source-measure unit
type SMUConfig struct {
	// Driver is emulated, k2400 or k2600
	Driver string `yaml:"driver"`

	// Transport is emulated, usb, lan, gpib or serial
	Transport string `yaml:"transport"`

	// Addr is host:port for lan and gpib gateways, a device path for
	// serial, or vid:pid in hex for usb
	Addr string `yaml:"addr"`

	Baud int `yaml:"baud"`

	// Speed is the integration speed, fast, medium or normal
	Speed string `yaml:"speed"`

	VoltageLimit float64 `yaml:"voltageLimit"`
	CurrentLimit float64 `yaml:"currentLimit"`
	FourWire     bool    `yaml:"fourWire"`

	// Test and Reference are the channels of the cell and the reference diode, A or B
	Test      string `yaml:"test"`
	Reference string `yaml:"reference"`

	// Timeout is the read timeout in seconds
	Timeout float64 `yaml:"timeout"`
}

// IntensityConfig is the activation of one intensity.  Which field is used
// depends on the lamp driver.
type IntensityConfig struct {
	Intensity float64 `yaml:"intensity"`
	Recipe    string  `yaml:"recipe,omitempty"`
	Position  float64 `yaml:"position,omitempty"`
	Amplitude float64 `yaml:"amplitude,omitempty"`
}

// LampConfig describes the solar simulator
type LampConfig struct {
	// Driver is mock, recipe, filterwheel or amplitude
	Driver string `yaml:"driver"`
	Addr   string `yaml:"addr"`
	Serial bool   `yaml:"serial"`

	Intensities []IntensityConfig `yaml:"intensities"`

	// Axis and Dark are the filter wheel axis and its opaque position
	Axis string  `yaml:"axis"`
	Dark float64 `yaml:"dark"`

	// VoltsPerPercent drives an amplitude lamp linearly when an intensity has no table entry
	VoltsPerPercent float64 `yaml:"voltsPerPercent"`

	// Settle is waited after on and off, in seconds
	Settle float64 `yaml:"settle"`

	Tolerance float64 `yaml:"tolerance"`
}

// ReferenceConfig describes the reference diode
type ReferenceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Mode is parallel or serial
	Mode string `yaml:"mode"`

	// OneSun is the diode current at one sun in amps
	OneSun float64 `yaml:"oneSun"`
}

// StageConfig describes the stage carrying the cell and reference diode in serial mode
type StageConfig struct {
	// Driver is fixed, mock or esp301
	Driver string `yaml:"driver"`
	Addr   string `yaml:"addr"`
	Serial bool   `yaml:"serial"`
	Axis   string `yaml:"axis"`

	CellPos      float64 `yaml:"cellPos"`
	ReferencePos float64 `yaml:"referencePos"`
	Tolerance    float64 `yaml:"tolerance"`

	// Settle is waited after each move for vibration to decay, in seconds
	Settle float64 `yaml:"settle"`
}

// EmulatorConfig describes the emulated cell used in mock mode
type EmulatorConfig struct {
	Cell smu.Diode `yaml:"cell"`

	// RefCurrent is the emulated reference diode current at one sun
	RefCurrent float64 `yaml:"refCurrent"`

	// SingleChannel emulates a 2400-style instrument with terminal toggling
	SingleChannel bool `yaml:"singleChannel"`
}

// Config is the configuration of a bench
type Config struct {
	// Addr is the address the HTTP server listens at
	Addr string `yaml:"addr"`

	// Mock replaces every instrument with an emulation
	Mock bool `yaml:"mock"`

	SMU       SMUConfig       `yaml:"smu"`
	Lamp      LampConfig      `yaml:"lamp"`
	Reference ReferenceConfig `yaml:"reference"`
	Stage     StageConfig     `yaml:"stage"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	Runner    measure.Options `yaml:"runner"`
}

// Default returns the configuration used for keys absent from the file
func Default() Config {
	return Config{
		Addr: ":8000",
		Mock: true,
		SMU: SMUConfig{
			Driver:       "emulated",
			Transport:    "emulated",
			Baud:         9600,
			Speed:        "normal",
			VoltageLimit: 2,
			CurrentLimit: 0.1,
			Test:         "A",
			Reference:    "B",
			Timeout:      5,
		},
		Lamp: LampConfig{
			Driver: "mock",
			Intensities: []IntensityConfig{
				{Intensity: 100, Recipe: "AM1.5G"},
			},
			Tolerance: 0.5,
		},
		Reference: ReferenceConfig{
			Enabled: true,
			Mode:    "parallel",
			OneSun:  -0.0011,
		},
		Stage: StageConfig{
			Driver:    "fixed",
			Axis:      "1",
			Tolerance: 0.01,
			Settle:    0.5,
		},
		Emulator: EmulatorConfig{
			Cell:       smu.Diode{Isc: -0.0016, Voc: 0.55, Ideality: smu.DefaultIdeality},
			RefCurrent: -0.0011,
		},
		Runner: measure.DefaultOptions(),
	}
}

// Load reads the configuration: defaults, then the YAML file at path if
// it exists, then IVBENCH_ environment variables.  A .env file in the
// working directory is loaded into the environment first.
func Load(path string) (*koanf.Koanf, Config, error) {
	var c Config
	k := koanf.New(".")
	_ = godotenv.Load()
	if err := k.Load(structs.Provider(Default(), "yaml"), nil); err != nil {
		return k, c, errors.Wrap(err, "loading config defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(errors.Cause(err)) && !strings.Contains(err.Error(), "no such") {
				return k, c, errors.Wrapf(err, "loading config file %s", path)
			}
		}
	}
	// environment names are upper case, keys are camel case; map between them
	// through the keys already known
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		name = strings.Replace(name, "_", ".", -1)
		return known[name]
	}), nil)
	if err != nil {
		return k, c, errors.Wrap(err, "loading environment")
	}
	err = k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"})
	return k, c, err
}

// Encode writes c as YAML
func Encode(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
