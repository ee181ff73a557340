package observability

import (
	"strings"

	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
)

// Process names the binary reporting telemetry. It suffixes the service
// name so API and batch traces and metrics stay apart.
type Process string

const (
	ProcessAPI     Process = "api"
	ProcessSweeper Process = "settlement-sweeper"
)

// WithProcess tags the observability stack of one binary.
func WithProcess(p Process) fx.Option {
	return fx.Supply(p)
}

type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

type LoadParams struct {
	fx.In

	App     config.Config
	Process Process `optional:"true"`
}

func LoadConfig(p LoadParams) Config {
	serviceName := strings.TrimSpace(p.App.AppName)
	if serviceName == "" {
		serviceName = "consultly"
	}
	if p.Process != "" {
		serviceName += "-" + string(p.Process)
	}

	telemetry := p.App.Telemetry
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(p.App.Environment),
		Version:              strings.TrimSpace(p.App.AppVersion),
		LogLevel:             telemetry.LogLevel,
		LogFormat:            telemetry.LogFormat,
		OtelEnabled:          telemetry.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(p.App.OTLPEndpoint),
		OtelExporterProtocol: telemetry.OtelProtocol,
		OtelSamplingRatio:    samplingRatio(telemetry.SamplingRatio, p.Process),
	}
}

// A sweep run is a few hundred rows a day, so every one is traced.
func samplingRatio(configured float64, p Process) float64 {
	switch {
	case configured >= 0 && configured <= 1:
		return configured
	case p == ProcessSweeper:
		return 1
	default:
		return 0.1
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
