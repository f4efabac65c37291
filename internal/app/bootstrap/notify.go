package bootstrap

import (
	"context"

	appconfig "github.com/wolfman30/physio-voice-intake/internal/config"
	"github.com/wolfman30/physio-voice-intake/internal/notify"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

// BuildEmailSender picks the sender named by EMAIL_PROVIDER. A provider that
// is selected but not usable falls back to a stub that only logs.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}

	switch cfg.EmailProvider {
	case "ses":
		if sender := buildSESSender(ctx, cfg, logger); sender != nil {
			logger.Info("appointment confirmations via ses", "region", cfg.AWSRegion)
			return sender
		}
		logger.Warn("ses selected but not configured; confirmations are logged only")
	case "sendgrid", "":
		if sender := buildSendGridSender(cfg, logger); sender != nil {
			logger.Info("appointment confirmations via sendgrid")
			return sender
		}
		if cfg.EmailProvider == "sendgrid" {
			logger.Warn("sendgrid selected but not configured; confirmations are logged only")
		}
	case "stub":
	default:
		logger.Warn("unknown email provider; confirmations are logged only", "provider", cfg.EmailProvider)
	}
	logger.Info("confirmations are logged only")
	return notify.NewStubEmailSender(logger)
}

func buildSESSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *notify.SESSender {
	if cfg.SESFromEmail == "" {
		return nil
	}
	client, err := BuildSESClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to load aws config for ses", "error", err)
		return nil
	}
	return notify.NewSESSender(client, notify.SESConfig{
		FromEmail: cfg.SESFromEmail,
		FromName:  cfg.SESFromName,
	}, logger)
}

func buildSendGridSender(cfg *appconfig.Config, logger *logging.Logger) *notify.SendGridSender {
	if cfg.SendGridFromEmail == "" {
		return nil
	}
	return notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
}

// BuildConfirmer wires the appointment confirmation observer.
func BuildConfirmer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *notify.Confirmer {
	clinicName := ""
	if cfg != nil {
		clinicName = cfg.SendGridFromName
		if cfg.EmailProvider == "ses" {
			clinicName = cfg.SESFromName
		}
	}
	return notify.NewConfirmer(notify.ConfirmationConfig{
		Sender:     BuildEmailSender(ctx, cfg, logger),
		ClinicName: clinicName,
		Logger:     logger,
	})
}
