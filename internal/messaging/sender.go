package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/tripadmin/internal/domain/user"
	"golang.org/x/sync/errgroup"
)

type SendFailure struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type SendTally struct {
	Template TemplateKey   `json:"template"`
	Sent     int           `json:"sent"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Failures []SendFailure `json:"failures,omitempty"`
}

// Sender renders a template per user and delivers it. Ineligible users are skipped unless
// the send is forced.
type Sender struct {
	notifier    Notifier
	concurrency int
	log         *slog.Logger
}

func NewSender(n Notifier, concurrency int, log *slog.Logger) *Sender {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sender{notifier: n, concurrency: concurrency, log: log}
}

func (s *Sender) Send(ctx context.Context, key TemplateKey, users []user.Record, now time.Time, force bool) (SendTally, error) {
	tmpl, err := Lookup(key)
	if err != nil {
		return SendTally{}, err
	}

	tally := SendTally{Template: key}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, u := range users {
		if !force && !tmpl.Eligible(u, now) {
			tally.Skipped++
			continue
		}

		g.Go(func() error {
			err := s.sendOne(ctx, tmpl, u)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				tally.Failed++
				tally.Failures = append(tally.Failures, SendFailure{UserID: u.UserID, Message: err.Error()})
				return nil
			}
			tally.Sent++
			return nil
		})
	}
	_ = g.Wait()

	s.log.InfoContext(ctx, "messages sent",
		"template", key, "sent", tally.Sent, "skipped", tally.Skipped, "failed", tally.Failed)
	return tally, nil
}

func (s *Sender) sendOne(ctx context.Context, tmpl Template, u user.Record) error {
	html, err := tmpl.Render(u)
	if err != nil {
		return err
	}

	_, err = s.notifier.Send(ctx, Message{
		To:       u.Email,
		Subject:  tmpl.Subject,
		HTML:     html,
		UserID:   u.UserID,
		Template: tmpl.Key,
	})
	return err
}
