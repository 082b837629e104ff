package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
)

var (
	ErrNoVideoProduct = errors.New("order has no video component")
	ErrVideoNotPaid   = errors.New("order not paid")
	ErrUnknownJob     = errors.New("unknown generation job")
)

// VideoService runs the generation sub-state machine
// (not_started -> processing -> completed|failed). The processing claim is a
// conditional update, so two concurrent Ensure calls dispatch exactly one job.
type VideoService struct {
	orders   repository.OrderRepository
	client   GenerationClient
	notifier Notifier
	logger   *slog.Logger
}

func NewVideoService(orders repository.OrderRepository, client GenerationClient, notifier Notifier, logger *slog.Logger) *VideoService {
	return &VideoService{orders: orders, client: client, notifier: notifier, logger: logger}
}

// VideoState is what the delivery page polls.
type VideoState struct {
	Status   domain.VideoStatus `json:"status"`
	VideoURL string             `json:"video_url,omitempty"`
	Detail   string             `json:"detail,omitempty"`
}

// Ensure advances the order's video pipeline one step and reports the current
// state. It both dispatches the job (claiming not_started first, so a crashed
// dispatch never leaves a second caller free to double-submit) and polls the
// provider while processing. failed is terminal; retries are a manual
// operation through Fulfill.
func (s *VideoService) Ensure(ctx context.Context, publicID string) (*VideoState, error) {
	order, err := s.orders.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !order.ProductType.IncludesVideo() {
		return nil, ErrNoVideoProduct
	}
	if order.Status == domain.StatusPendingPayment || order.Status == domain.StatusPaymentFailed {
		return nil, ErrVideoNotPaid
	}

	switch order.VideoStatus {
	case domain.VideoNotStarted:
		return s.dispatch(ctx, order)
	case domain.VideoProcessing:
		return s.poll(ctx, order)
	case domain.VideoCompleted:
		return &VideoState{Status: domain.VideoCompleted, VideoURL: order.VideoURL}, nil
	default:
		return &VideoState{Status: domain.VideoFailed, Detail: order.VideoError}, nil
	}
}

func (s *VideoService) dispatch(ctx context.Context, order *domain.Order) (*VideoState, error) {
	claimed, err := s.orders.MarkVideoProcessing(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race; report whatever state the winner produced.
		fresh, err := s.orders.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return &VideoState{Status: fresh.VideoStatus, VideoURL: fresh.VideoURL, Detail: fresh.VideoError}, nil
	}

	jobID, err := s.client.StartJob(ctx, BuildScript(order))
	if err != nil {
		s.logger.ErrorContext(ctx, "video job dispatch failed", "order_id", order.PublicID, "err", err)
		if ferr := s.orders.SetVideoFailed(ctx, order.ID, "dispatch failed"); ferr != nil {
			return nil, ferr
		}
		return &VideoState{Status: domain.VideoFailed, Detail: "dispatch failed"}, nil
	}
	if err := s.orders.SetVideoJob(ctx, order.ID, jobID); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "video job dispatched", "order_id", order.PublicID, "job_id", jobID)
	return &VideoState{Status: domain.VideoProcessing}, nil
}

func (s *VideoService) poll(ctx context.Context, order *domain.Order) (*VideoState, error) {
	if order.VideoJobID == "" {
		// Claimed but the process died before the job id landed.
		return &VideoState{Status: domain.VideoProcessing}, nil
	}
	status, err := s.client.GetStatus(ctx, order.VideoJobID)
	if err != nil {
		s.logger.WarnContext(ctx, "video status poll failed", "order_id", order.PublicID, "err", err)
		return &VideoState{Status: domain.VideoProcessing}, nil
	}
	return s.apply(ctx, order, status)
}

// HandleJobCallback is the push path: the provider notifies completion instead
// of waiting to be polled. It feeds the exact same transition as the poll.
func (s *VideoService) HandleJobCallback(ctx context.Context, jobID string, status JobStatus) error {
	order, err := s.orders.FindByVideoJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return ErrUnknownJob
		}
		return err
	}
	_, err = s.apply(ctx, order, status)
	return err
}

func (s *VideoService) apply(ctx context.Context, order *domain.Order, status JobStatus) (*VideoState, error) {
	switch status.State {
	case JobCompleted:
		transitioned, err := s.orders.SetVideoCompleted(ctx, order.ID, status.ResultURL)
		if err != nil {
			return nil, err
		}
		if transitioned {
			fresh, err := s.orders.FindByID(ctx, order.ID)
			if err == nil {
				s.sendDelivery(ctx, fresh)
			}
		}
		return &VideoState{Status: domain.VideoCompleted, VideoURL: status.ResultURL}, nil
	case JobFailed:
		if err := s.orders.SetVideoFailed(ctx, order.ID, status.Detail); err != nil {
			return nil, err
		}
		return &VideoState{Status: domain.VideoFailed, Detail: status.Detail}, nil
	default:
		return &VideoState{Status: domain.VideoProcessing}, nil
	}
}

// Fulfill is the manual override for a failed or stuck job: it stores the
// video URL directly and sends the delivery email if this is the first
// completion.
func (s *VideoService) Fulfill(ctx context.Context, publicID, videoURL string) error {
	order, err := s.orders.FindByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if !order.ProductType.IncludesVideo() {
		return ErrNoVideoProduct
	}
	transitioned, err := s.orders.ForceVideoCompleted(ctx, order.ID, videoURL)
	if err != nil {
		return err
	}
	if transitioned {
		fresh, err := s.orders.FindByID(ctx, order.ID)
		if err == nil {
			s.sendDelivery(ctx, fresh)
		}
	}
	s.logger.InfoContext(ctx, "video fulfilled manually", "order_id", publicID)
	return nil
}

func (s *VideoService) sendDelivery(ctx context.Context, order *domain.Order) {
	content := BuildEmail(EmailVideoDelivery, order, nil)
	if content == nil {
		return
	}
	if err := s.notifier.Send(ctx, order.Email, content.Subject, content.HTML, content.Text); err != nil {
		s.logger.ErrorContext(ctx, "video delivery email failed", "order_id", order.PublicID, "err", err)
	}
}

// BuildScript renders the narration handed to the generation provider.
func BuildScript(order *domain.Order) string {
	var b strings.Builder
	for i, p := range order.Participants {
		if i == 0 {
			fmt.Fprintf(&b, "Ho ho ho! Hello %s! It's Santa Claus, calling all the way from the North Pole!", p.Name)
		} else {
			fmt.Fprintf(&b, " And hello to you too, %s!", p.Name)
		}
		if p.Deed != "" {
			fmt.Fprintf(&b, " I heard you did something wonderful this year: %s. That put you right at the top of my nice list!", p.Deed)
		}
		if p.Wish != "" {
			fmt.Fprintf(&b, " And I hear you're wishing for %s. The elves are already hard at work!", p.Wish)
		}
	}
	b.WriteString(" Be good, keep being kind, and I'll see you on Christmas Eve. Merry Christmas! Ho ho ho!")
	return b.String()
}
