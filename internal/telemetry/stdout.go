package telemetry

import (
	"github.com/CellWizard/gr-osmosdr/internal/logging"
)

// Reporter captures telemetry events.
type Reporter interface {
	Report(sample Sample)
}

// StdoutReporter prints stream-health updates through the logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(sample Sample) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "delivered", Value: sample.Delivered},
		{Key: "failed", Value: sample.Failed},
		{Key: "restarts", Value: sample.Restarts},
	}
	if sample.RateSPS != 0 {
		fields = append(fields, logging.Field{Key: "rate_sps", Value: sample.RateSPS})
	}
	if sample.PeakDBFS != 0 {
		fields = append(fields,
			logging.Field{Key: "peak_dbfs", Value: sample.PeakDBFS},
			logging.Field{Key: "peak_hz", Value: sample.PeakHz},
		)
	}
	if sample.FloorDBFS != 0 {
		fields = append(fields, logging.Field{Key: "floor_dbfs", Value: sample.FloorDBFS})
	}
	r.logger.Info("telemetry sample", fields...)
}
