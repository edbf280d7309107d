package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	"travelbot/internal/credential"
	"travelbot/internal/models"
)

// ModelInvoker is the part of ai.Invoker the conversation needs.
type ModelInvoker interface {
	ResolveCredential(mc models.ModelConfig, sessionCredential string) (string, error)
	Generate(ctx context.Context, transcript string, mc models.ModelConfig, token string) (*schema.StreamReader[*schema.Message], error)
}

// DefaultTurnTimeout bounds a single model call.
const DefaultTurnTimeout = 2 * time.Minute

// EmptyInputWarning is shown when a blank utterance is submitted.
const EmptyInputWarning = "Please enter a question."

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrUnknownModel  = errors.New("unknown model")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	// DefaultCredential is offered to every new session when it is valid.
	DefaultCredential string
	TurnTimeout       time.Duration
}

// Service owns conversation sessions: their messages, the selected model and
// the active credential, and runs turns against the model invoker.
type Service struct {
	db      *sql.DB
	catalog *models.Catalog
	invoker ModelInvoker
	cipher  *tokenCipher

	defaultCredential string
	turnTimeout       time.Duration

	observers *observers
}

// NewService builds the conversation service. When TRAVELBOT_CREDENTIAL_KEY is
// set, stored credentials are encrypted with it.
func NewService(db *sql.DB, catalog *models.Catalog, invoker ModelInvoker, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if catalog == nil {
		return nil, errors.New("model catalog is required")
	}
	if invoker == nil {
		return nil, errors.New("model invoker is required")
	}
	cipher, err := newTokenCipherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}
	timeout := opts.TurnTimeout
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}
	defaultCred := opts.DefaultCredential
	if defaultCred == "" {
		defaultCred = credential.FromEnv()
	}
	return &Service{
		db:                db,
		catalog:           catalog,
		invoker:           invoker,
		cipher:            cipher,
		defaultCredential: defaultCred,
		turnTimeout:       timeout,
		observers:         newObservers(),
	}, nil
}

// Catalog exposes the models a session can select.
func (s *Service) Catalog() *models.Catalog {
	return s.catalog
}

// HasDefaultCredential reports whether new sessions start with a usable credential.
func (s *Service) HasDefaultCredential() bool {
	return credential.Valid(s.defaultCredential)
}

// RatingAck returns the transient acknowledgement for a 1-5 star rating.
// Ratings are not stored.
func RatingAck(stars int) (string, error) {
	if stars < 1 || stars > 5 {
		return "", ErrInvalidRating
	}
	return fmt.Sprintf("Thank you for rating us %d stars!", stars), nil
}
