package publisher

import (
	"context"
	"errors"

	"github.com/postloom/postloom/internal/models"
)

// Content is the rendered post handed to an adapter. MediaURL, when set, is
// always a fetchable reference; embedded payloads are externalized before
// dispatch.
type Content struct {
	Text      string
	MediaURL  string
	MediaType string
}

// Typed adapter errors. Adapters return these instead of panicking when a
// platform's preconditions are not met.
var (
	ErrMediaRequired   = errors.New("platform requires media but none was supplied")
	ErrTokenUnusable   = errors.New("connection token could not be used")
	ErrEmptyContent    = errors.New("content text is empty")
	ErrRemoteRejection = errors.New("platform rejected the post")
)

// Publisher is the single capability each platform implements. Adapters are
// stateless, safe for concurrent use across connections, and never retry;
// retry policy belongs to the caller so failure attribution stays per
// platform.
type Publisher interface {
	// Publish posts the content on behalf of the connection and returns the
	// external post id. The context carries the per-call deadline.
	Publish(ctx context.Context, conn *models.Connection, content Content) (string, error)
}
