package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/goliatone/go-errors"
	"github.com/rs/zerolog"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/config"
)

// New builds the notifier the configuration asks for. Disabled mode
// returns a logging notifier that renders but never sends, which keeps
// development flows exercised end to end.
func New(ctx context.Context, cfg config.EmailConfig, logger zerolog.Logger) (botprompts.Notifier, error) {
	switch cfg.Mode {
	case "ses":
		return NewSESNotifier(ctx, cfg, logger)
	case "disabled":
		return NewLogNotifier(cfg, logger), nil
	default:
		return nil, errors.New(
			fmt.Sprintf("unknown email mode %q", cfg.Mode),
			errors.CategoryInternal,
		)
	}
}

type renderer struct {
	cfg config.EmailConfig
}

func (r renderer) render(tmpl *template.Template, displayName, token, actionPath string) (string, error) {
	body := mailBody{
		DisplayName: displayName,
		SiteName:    r.cfg.SiteName,
		SiteURL:     r.cfg.SiteURL,
		Token:       token,
	}
	if actionPath != "" {
		body.ActionURL = r.cfg.SiteURL + actionPath + "?token=" + token
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, body); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to render email body")
	}
	return buf.String(), nil
}

// LogNotifier renders every message and logs it instead of sending
type LogNotifier struct {
	renderer
	logger zerolog.Logger
}

func NewLogNotifier(cfg config.EmailConfig, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		renderer: renderer{cfg: cfg},
		logger:   logger.With().Str("component", "notifier").Str("mode", "disabled").Logger(),
	}
}

func (n *LogNotifier) NotifyEmailVerification(_ context.Context, email, displayName, token string) error {
	if _, err := n.render(verificationTmpl, displayName, token, "/verify"); err != nil {
		return err
	}
	n.logger.Info().Str("to", email).Str("token", token).Msg("verification email suppressed")
	return nil
}

func (n *LogNotifier) NotifyAccountRecoveryToken(_ context.Context, email, displayName, token string) error {
	if _, err := n.render(recoveryTmpl, displayName, token, "/reset"); err != nil {
		return err
	}
	n.logger.Info().Str("to", email).Str("token", token).Msg("recovery email suppressed")
	return nil
}

func (n *LogNotifier) NotifyAccountRecentlyUpdated(_ context.Context, email, displayName string) error {
	if _, err := n.render(accountUpdatedTmpl, displayName, "", ""); err != nil {
		return err
	}
	n.logger.Info().Str("to", email).Msg("account-updated email suppressed")
	return nil
}

// sesSender is the one sesv2 call the notifier needs, split out so
// tests can stand in for the AWS client.
type sesSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends through Amazon SESv2
type SESNotifier struct {
	renderer
	client sesSender
	logger zerolog.Logger
}

func NewSESNotifier(ctx context.Context, cfg config.EmailConfig, logger zerolog.Logger) (*SESNotifier, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load AWS config")
	}

	return &SESNotifier{
		renderer: renderer{cfg: cfg},
		client:   sesv2.NewFromConfig(awsCfg),
		logger:   logger.With().Str("component", "notifier").Str("mode", "ses").Logger(),
	}, nil
}

func (n *SESNotifier) send(ctx context.Context, to, subject, html string) error {
	_, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.cfg.Sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html)},
				},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to send email")
	}
	n.logger.Debug().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func (n *SESNotifier) NotifyEmailVerification(ctx context.Context, email, displayName, token string) error {
	html, err := n.render(verificationTmpl, displayName, token, "/verify")
	if err != nil {
		return err
	}
	return n.send(ctx, email, fmt.Sprintf("Verify your %s account", n.cfg.SiteName), html)
}

func (n *SESNotifier) NotifyAccountRecoveryToken(ctx context.Context, email, displayName, token string) error {
	html, err := n.render(recoveryTmpl, displayName, token, "/reset")
	if err != nil {
		return err
	}
	return n.send(ctx, email, fmt.Sprintf("Reset your %s password", n.cfg.SiteName), html)
}

func (n *SESNotifier) NotifyAccountRecentlyUpdated(ctx context.Context, email, displayName string) error {
	html, err := n.render(accountUpdatedTmpl, displayName, "", "")
	if err != nil {
		return err
	}
	return n.send(ctx, email, fmt.Sprintf("Your %s account was updated", n.cfg.SiteName), html)
}
