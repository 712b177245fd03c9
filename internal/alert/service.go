// Package alert notifies operators over SMTP when the persistence writer
// exhausts its retry budget. Alerts are rate-limited per document so a
// sustained outage produces one email per window, not one per flush.
package alert

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"sync"
	"time"
)

// Config holds SMTP configuration.
type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
}

// Service sends operational alerts.
type Service struct {
	config Config
	server string
	auth   smtp.Auth

	mu       sync.Mutex
	lastSent map[string]time.Time
	window   time.Duration
}

// NewService creates an alerting service.
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		lastSent: make(map[string]time.Time),
		window:   10 * time.Minute,
	}
}

// IsConfigured returns true if alerting is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != "" && len(s.config.Recipients) > 0
}

// PersistenceFailure reports a flush that failed after retries. The document
// keeps serving from memory; this exists so someone looks at the database.
func (s *Service) PersistenceFailure(documentID string, version int64, cause error) {
	if !s.IsConfigured() {
		log.Printf("alert: persistence failure for %s v%d (alerting not configured): %v", documentID, version, cause)
		return
	}

	s.mu.Lock()
	last, seen := s.lastSent[documentID]
	if seen && time.Since(last) < s.window {
		s.mu.Unlock()
		return
	}
	s.lastSent[documentID] = time.Now()
	s.mu.Unlock()

	subject := fmt.Sprintf("[toolforge] persistence failure: %s", documentID)
	body := fmt.Sprintf(
		"Snapshot flush for tool %s at version %d failed after retries.\n\nCause: %v\n\nThe in-memory copy keeps serving; ops accepted since the last successful flush are at risk until the next flush succeeds.\n",
		documentID, version, cause,
	)
	go func() {
		if err := s.send(subject, body); err != nil {
			log.Printf("alert: send failed: %v", err)
		}
	}()
}

func (s *Service) send(subject, body string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(s.config.Recipients, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, s.config.Recipients, msg)
}
