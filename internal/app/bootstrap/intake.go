package bootstrap

import (
	"strings"
	"time"

	appconfig "github.com/wolfman30/physio-voice-intake/internal/config"
	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// ClinicLocation resolves CLINIC_TIMEZONE, falling back to UTC when the zone
// database does not know it.
func ClinicLocation(cfg *appconfig.Config, logger *logging.Logger) *time.Location {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || strings.TrimSpace(cfg.ClinicTimezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.ClinicTimezone))
	if err != nil {
		logger.Warn("unknown clinic timezone; using UTC", "timezone", cfg.ClinicTimezone, "error", err)
		return time.UTC
	}
	return loc
}

// BuildAppointmentExtractor configures booking extraction for the clinic.
func BuildAppointmentExtractor(cfg *appconfig.Config, logger *logging.Logger) *intake.AppointmentExtractor {
	apptCfg := intake.AppointmentConfig{Location: ClinicLocation(cfg, logger)}
	if cfg != nil {
		apptCfg.Cities = cfg.ClinicCities
		apptCfg.OnlineFee = cfg.OnlineFee
		apptCfg.InPersonFee = cfg.InPersonFee
	}
	return intake.NewAppointmentExtractor(apptCfg)
}
