package jobcard

import (
	"errors"
	"time"

	"github.com/aquamarinepk/aqm"
)

// SessionExpiredRedirectDelay is how long the operator sees the expiry notice
// before being sent to the login page.
const SessionExpiredRedirectDelay = 2 * time.Second

type NoticeKind string

const (
	NoticeInfo           NoticeKind = "info"
	NoticeSuccess        NoticeKind = "success"
	NoticeWarning        NoticeKind = "warning"
	NoticeError          NoticeKind = "error"
	NoticeSessionExpired NoticeKind = "session-expired"
)

// Notice is a user-facing message. Every failure produces one.
type Notice struct {
	Kind          NoticeKind    `json:"kind"`
	Message       string        `json:"message"`
	RedirectAfter time.Duration `json:"redirectAfter,omitempty"`
	At            time.Time     `json:"at"`
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

type logNotifier struct {
	logger aqm.Logger
}

func (n logNotifier) Notify(notice Notice) {
	n.logger.Info("notice", "kind", string(notice.Kind), "message", notice.Message)
}

func noticeFor(err error) Notice {
	var validation *ValidationError
	var capture *DetailCaptureRequired
	var partial *PartialCompletionError
	n := Notice{Kind: NoticeError, Message: err.Error(), At: time.Now()}
	switch {
	case errors.Is(err, ErrSessionExpired):
		n.Kind = NoticeSessionExpired
		n.Message = "Your session has expired. Redirecting to login."
		n.RedirectAfter = SessionExpiredRedirectDelay
	case errors.As(err, &partial):
		n.Kind = NoticeWarning
		n.Message = "Job completed, but the invoice could not be created. Please create it manually."
	case errors.As(err, &validation), errors.As(err, &capture),
		errors.Is(err, ErrForbidden), errors.Is(err, ErrReadOnly), errors.Is(err, ErrInvalidTransition):
		n.Kind = NoticeWarning
	}
	return n
}
