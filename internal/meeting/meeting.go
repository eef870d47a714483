// Package meeting is the boundary to the video-conferencing provider.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

var (
	// ErrMeetingNotFound is returned by UpdateMeeting when the provider no
	// longer knows the external id.
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrDisabled        = fmt.Errorf("%w: meeting provider disabled", apperror.ErrUpstreamUnavailable)
)

type Request struct {
	DoctorID uuid.UUID
	Start    time.Time
	End      time.Time
	Topic    string
}

type Meeting struct {
	ExternalID string
	JoinURL    string
}

type Client interface {
	CreateMeeting(ctx context.Context, req Request) (Meeting, error)
	UpdateMeeting(ctx context.Context, externalID string, req Request) error
}

// Ensure updates the meeting behind ref, or creates one when ref is empty
// or the provider reports it gone. created is true when a new meeting
// replaces ref.
func Ensure(ctx context.Context, c Client, ref string, joinURL string, req Request) (m Meeting, created bool, err error) {
	if ref != "" {
		err := c.UpdateMeeting(ctx, ref, req)
		if err == nil {
			return Meeting{ExternalID: ref, JoinURL: joinURL}, false, nil
		}
		if !errors.Is(err, ErrMeetingNotFound) {
			return Meeting{}, false, fmt.Errorf("update meeting %s: %w", ref, err)
		}
	}
	m, err = c.CreateMeeting(ctx, req)
	if err != nil {
		return Meeting{}, false, fmt.Errorf("create meeting: %w", err)
	}
	return m, true, nil
}

// Disabled fails every call, for deployments without a provider.
type Disabled struct{}

func (Disabled) CreateMeeting(context.Context, Request) (Meeting, error) {
	return Meeting{}, ErrDisabled
}

func (Disabled) UpdateMeeting(context.Context, string, Request) error {
	return ErrDisabled
}

// LocalClient issues links under a base URL and remembers them in memory.
// Used in development and tests.
type LocalClient struct {
	baseURL string

	mu       sync.Mutex
	meetings map[string]Request
	creates  int
	updates  int
}

func NewLocalClient(baseURL string) *LocalClient {
	return &LocalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		meetings: make(map[string]Request),
	}
}

func (c *LocalClient) CreateMeeting(_ context.Context, req Request) (Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	c.meetings[id] = req
	c.creates++
	return Meeting{ExternalID: id, JoinURL: c.baseURL + "/j/" + id}, nil
}

func (c *LocalClient) UpdateMeeting(_ context.Context, externalID string, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.meetings[externalID]; !ok {
		return ErrMeetingNotFound
	}
	c.meetings[externalID] = req
	c.updates++
	return nil
}

// Forget drops a meeting, simulating drift on the provider side.
func (c *LocalClient) Forget(externalID string) {
	c.mu.Lock()
	delete(c.meetings, externalID)
	c.mu.Unlock()
}

func (c *LocalClient) Counts() (creates, updates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.updates
}

func (c *LocalClient) Get(externalID string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.meetings[externalID]
	return r, ok
}
