package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"credential_verifier/internal/model"

	"go.uber.org/zap"
)

// Notifier сообщает специалисту об итоге проверки.
// false означает, что письмо не ушло; статус при этом уже сохранен.
type Notifier interface {
	SendApprovalEmail(ctx context.Context, v *model.Verification) bool
	SendRejectionEmail(ctx context.Context, v *model.Verification, reason string) bool
}

type UserLookup interface {
	GetByUUID(ctx context.Context, uuid string) (*model.User, error)
}

type Observer interface {
	ObserveNotification(kind string, sent bool)
}

const (
	KindApproval  = "approval"
	KindRejection = "rejection"
)

var approvalTemplate = template.Must(template.New("approval").Parse(
	`Hello {{.Name}},

Your professional credentials have been verified.
License number: {{.LicenseNumber}}
Specialty: {{.Specialty}}

Your professional account is now active.
`))

var rejectionTemplate = template.Must(template.New("rejection").Parse(
	`Hello {{.Name}},

We could not verify the diploma you submitted for license number {{.LicenseNumber}}.
Reason: {{.Reason}}

You can upload a new document from your profile.
`))

type emailData struct {
	Name          string
	LicenseNumber string
	Specialty     string
	Reason        string
}

type mailNotifier struct {
	users    UserLookup
	mailer   Mailer
	observer Observer
	logger   *zap.Logger
}

func NewMailNotifier(users UserLookup, mailer Mailer, observer Observer, logger *zap.Logger) Notifier {
	return &mailNotifier{
		users:    users,
		mailer:   mailer,
		observer: observer,
		logger:   logger,
	}
}

func (n *mailNotifier) SendApprovalEmail(ctx context.Context, v *model.Verification) bool {
	return n.send(ctx, KindApproval, "Your credentials have been verified", approvalTemplate, v, "")
}

func (n *mailNotifier) SendRejectionEmail(ctx context.Context, v *model.Verification, reason string) bool {
	return n.send(ctx, KindRejection, "Your credential verification was rejected", rejectionTemplate, v, reason)
}

func (n *mailNotifier) send(ctx context.Context, kind, subject string, tmpl *template.Template, v *model.Verification, reason string) bool {
	err := n.deliver(ctx, subject, tmpl, v, reason)
	if n.observer != nil {
		n.observer.ObserveNotification(kind, err == nil)
	}
	if err != nil {
		n.logger.Warn("failed to send notification",
			zap.String("kind", kind),
			zap.Int64("verification_id", v.ID),
			zap.Error(err))
		return false
	}

	n.logger.Info("notification sent", zap.String("kind", kind), zap.Int64("verification_id", v.ID))
	return true
}

func (n *mailNotifier) deliver(ctx context.Context, subject string, tmpl *template.Template, v *model.Verification, reason string) error {
	user, err := n.users.GetByUUID(ctx, v.ProfessionalUUID)
	if err != nil {
		return fmt.Errorf("failed to look up professional: %w", err)
	}
	if user == nil {
		return fmt.Errorf("professional %s not found", v.ProfessionalUUID)
	}
	if user.Email == "" {
		return fmt.Errorf("professional %s has no email", v.ProfessionalUUID)
	}

	var body bytes.Buffer
	err = tmpl.Execute(&body, emailData{
		Name:          user.FullName(),
		LicenseNumber: v.LicenseNumber,
		Specialty:     v.Specialty,
		Reason:        reason,
	})
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	return n.mailer.Send(ctx, user.Email, subject, body.String())
}
