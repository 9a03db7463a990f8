package conversion

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/pkg/events"
	"github.com/atlalli/redemption/pkg/logger"
)

// Store persists guest-to-member conversion markers.
type Store interface {
	Create(ctx context.Context, conv *domain.GuestConversion) error
	ListPending(ctx context.Context, venueID string, limit int) ([]domain.GuestConversion, error)
	MarkConverted(ctx context.Context, guestEmail string) (bool, error)
	CountByStatus(ctx context.Context, venueID string, status domain.GuestConversionStatus) (int, error)
}

// Mailer is the slice of the mail platform the conversion flow needs.
type Mailer interface {
	SendGuestInvite(email, venueID string) error
}

// Service creates pending conversion markers after a guest redemption and
// kicks off the membership invite.
type Service struct {
	store  Store
	mailer Mailer
	bus    events.Publisher
}

func NewService(store Store, mailer Mailer, bus events.Publisher) *Service {
	return &Service{store: store, mailer: mailer, bus: bus}
}

// TrackGuest records a pending conversion for a guest who just redeemed. The
// invite mail and event publish are best-effort: the redemption itself has
// already been committed and must not be rolled back over a mail failure.
func (s *Service) TrackGuest(ctx context.Context, guestEmail, venueID, staffID string) (*domain.GuestConversion, error) {
	conv := &domain.GuestConversion{
		ID:         uuid.NewString(),
		GuestEmail: strings.ToLower(guestEmail),
		VenueID:    venueID,
		StaffID:    staffID,
		Status:     domain.ConversionPending,
		CreatedAt:  time.Now(),
	}

	if err := s.store.Create(ctx, conv); err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendGuestInvite(conv.GuestEmail, venueID); err != nil {
			logger.ErrorContext(ctx, "Failed to send guest invite", "error", err, "guest_email", conv.GuestEmail)
		}
	}

	if s.bus != nil {
		event := events.GuestConversionPendingEvent{
			GuestEmail: conv.GuestEmail,
			VenueID:    venueID,
			StaffID:    staffID,
			CreatedAt:  conv.CreatedAt,
		}
		if err := s.bus.Publish(ctx, events.GuestConversionPending, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish guest conversion event", "error", err, "guest_email", conv.GuestEmail)
		}
	}

	return conv, nil
}

func (s *Service) ListPending(ctx context.Context, venueID string, limit int) ([]domain.GuestConversion, error) {
	return s.store.ListPending(ctx, venueID, limit)
}

func (s *Service) MarkConverted(ctx context.Context, guestEmail string) (bool, error) {
	return s.store.MarkConverted(ctx, strings.ToLower(guestEmail))
}

func (s *Service) CountByStatus(ctx context.Context, venueID string, status domain.GuestConversionStatus) (int, error) {
	return s.store.CountByStatus(ctx, venueID, status)
}

// MemoryStore is the in-memory Store used by tests and dev setups.
type MemoryStore struct {
	mu    sync.Mutex
	convs []domain.GuestConversion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Create(_ context.Context, conv *domain.GuestConversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = append(m.convs, *conv)
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context, venueID string, limit int) ([]domain.GuestConversion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.GuestConversion
	for _, c := range m.convs {
		if c.Status != domain.ConversionPending {
			continue
		}
		if venueID != "" && c.VenueID != venueID {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkConverted(_ context.Context, guestEmail string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for i := range m.convs {
		if m.convs[i].GuestEmail == guestEmail && m.convs[i].Status == domain.ConversionPending {
			m.convs[i].Status = domain.ConversionConverted
			changed = true
		}
	}
	return changed, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, venueID string, status domain.GuestConversionStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.convs {
		if c.Status != status {
			continue
		}
		if venueID != "" && c.VenueID != venueID {
			continue
		}
		n++
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
