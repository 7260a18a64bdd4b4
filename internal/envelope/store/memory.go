package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signetry/internal/envelope/models"
	"signetry/pkg/platform/sentinel"
)

// Memory is the in-memory Store used by unit tests and local development.
// A single mutex serializes transitions, the in-process analog of the
// postgres store's row locking: concurrent duplicate deliveries cannot both
// observe the pre-transition state.
type Memory struct {
	mu         sync.RWMutex
	envelopes  map[uuid.UUID]*models.Envelope
	byProvider map[string]uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		envelopes:  make(map[uuid.UUID]*models.Envelope),
		byProvider: make(map[string]uuid.UUID),
	}
}

func (s *Memory) CreateDraft(_ context.Context, params CreateDraftParams) (*models.Envelope, error) {
	now := time.Now()
	env := &models.Envelope{
		ID:           uuid.New(),
		Name:         params.Name,
		DocumentType: params.DocumentType,
		Status:       models.StatusDraft,
		CreatedByID:  params.CreatedByID,
		SubjectID:    params.SubjectID,
		Message:      params.Message,
		ExpiresAt:    params.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, r := range params.Recipients {
		env.Recipients = append(env.Recipients, models.Recipient{
			ID:                uuid.New(),
			EnvelopeID:        env.ID,
			Email:             r.Email,
			Name:              r.Name,
			Role:              r.Role,
			RoutingOrder:      r.RoutingOrder,
			SignatureRequired: r.SignatureRequired,
			InitialsRequired:  r.InitialsRequired,
			DateRequired:      r.DateRequired,
			Status:            models.RecipientPending,
		})
	}
	for _, d := range params.Documents {
		env.Documents = append(env.Documents, models.Document{
			ID:         uuid.New(),
			EnvelopeID: env.ID,
			Name:       d.Name,
			StorageRef: d.StorageRef,
			MimeType:   d.MimeType,
			Size:       d.Size,
			IsSigned:   d.IsSigned,
			CreatedAt:  now,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes[env.ID] = env
	return clone(env), nil
}

func (s *Memory) MarkSent(_ context.Context, envelopeID uuid.UUID, providerEnvelopeID string) (*models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if env.Status != models.StatusDraft {
		return nil, sentinel.ErrInvalidState
	}

	now := time.Now()
	env.Status = models.StatusSent
	env.SentAt = &now
	env.UpdatedAt = now
	pid := providerEnvelopeID
	env.ProviderEnvelopeID = &pid
	activateRoutingGroup(env)
	s.byProvider[providerEnvelopeID] = env.ID
	return clone(env), nil
}

func (s *Memory) ApplyProviderEvent(_ context.Context, providerEnvelopeID string, event models.ProviderEvent, payload models.EventPayload) (*models.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envID, ok := s.byProvider[providerEnvelopeID]
	if !ok {
		return nil, false, sentinel.ErrNotFound
	}
	env := s.envelopes[envID]

	applied := applyEvent(env, event, payload, time.Now())
	return clone(env), applied, nil
}

func (s *Memory) AddDocument(_ context.Context, envelopeID uuid.UUID, doc DocumentParams) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	d := models.Document{
		ID:         uuid.New(),
		EnvelopeID: envelopeID,
		Name:       doc.Name,
		StorageRef: doc.StorageRef,
		MimeType:   doc.MimeType,
		Size:       doc.Size,
		IsSigned:   doc.IsSigned,
		CreatedAt:  time.Now(),
	}
	env.Documents = append(env.Documents, d)
	out := d
	return &out, nil
}

func (s *Memory) FindByID(_ context.Context, id uuid.UUID) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.envelopes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(env), nil
}

func (s *Memory) FindByProviderID(_ context.Context, providerEnvelopeID string) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	envID, ok := s.byProvider[providerEnvelopeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.envelopes[envID]), nil
}

func (s *Memory) ListByOwner(_ context.Context, ownerID string, filter Filter, page Page) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Envelope
	for _, env := range s.envelopes {
		if env.CreatedByID != ownerID {
			continue
		}
		if filter.Status != nil && env.Status != *filter.Status {
			continue
		}
		if filter.DocumentType != nil && env.DocumentType != *filter.DocumentType {
			continue
		}
		if filter.SubjectID != nil && (env.SubjectID == nil || *env.SubjectID != *filter.SubjectID) {
			continue
		}
		matched = append(matched, env)
	}
	return paginate(matched, page), nil
}

func (s *Memory) ListByRecipientEmail(_ context.Context, email string, page Page) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Envelope
	for _, env := range s.envelopes {
		for i := range env.Recipients {
			if strings.EqualFold(env.Recipients[i].Email, email) {
				matched = append(matched, env)
				break
			}
		}
	}
	return paginate(matched, page), nil
}

func (s *Memory) ListDueForExpiry(_ context.Context, now time.Time, limit int) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Envelope
	for _, env := range s.envelopes {
		if env.Status.Active() && env.ExpiresAt.Before(now) {
			matched = append(matched, env)
		}
	}
	return paginate(matched, Page{Limit: limit}), nil
}

func paginate(envs []*models.Envelope, page Page) []*models.Envelope {
	sort.Slice(envs, func(i, j int) bool {
		return envs[i].CreatedAt.After(envs[j].CreatedAt)
	})
	if page.Offset >= len(envs) {
		return nil
	}
	envs = envs[page.Offset:]
	if limit := page.limit(); len(envs) > limit {
		envs = envs[:limit]
	}
	out := make([]*models.Envelope, len(envs))
	for i, env := range envs {
		out[i] = clone(env)
	}
	return out
}

func clone(env *models.Envelope) *models.Envelope {
	out := *env
	out.Recipients = append([]models.Recipient(nil), env.Recipients...)
	out.Documents = append([]models.Document(nil), env.Documents...)
	return &out
}
