package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// EmailSender delivers one-time codes out of band. It is an explicit
// capability injected alongside OTPService so the auth flows never import a
// mailer package directly.
type EmailSender interface {
	SendOTPEmail(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
}

// AWSSESEmailSender sends OTP emails using AWS SES
type AWSSESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailSender creates a new AWS SES email sender
func NewAWSSESEmailSender(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func subjectForPurpose(purpose string) string {
	switch purpose {
	case models.OTPPurposePasswordReset:
		return "Your password reset code"
	case models.OTPPurposeLoginMFA:
		return "Your login verification code"
	default:
		return "Confirm your email address"
	}
}

// SendOTPEmail sends a one-time code to the user
func (s *AWSSESEmailSender) SendOTPEmail(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f8f9fa; border-radius: 4px; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <p>Your verification code is:</p>
        <div class="code">%s</div>
        <div class="warning">This code expires in %d minutes and can only be used once.</div>
        <p>If you didn't request this code, you can ignore this email.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, code, minutes)

	textBody := fmt.Sprintf(`Your verification code is: %s

This code expires in %d minutes and can only be used once.

If you didn't request this code, you can ignore this email.
`, code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subjectForPurpose(purpose)),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send otp email via SES",
			slog.String("purpose", purpose),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("otp email sent",
		slog.String("purpose", purpose),
		slog.String("message_id", *result.MessageId))

	return nil
}
