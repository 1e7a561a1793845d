package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/vaxmatch/internal/model"
)

// MemoryStore implements Store in process. Each campaign has its own mutex
// for the critical section; mu guards the maps.
type MemoryStore struct {
	mu             sync.RWMutex
	campaigns      map[int64]*model.Campaign
	matches        map[int64]*model.Match
	byToken        map[string]int64
	byCampaign     map[int64][]int64
	locks          map[int64]*sync.Mutex
	nextCampaignID int64
	nextMatchID    int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:  make(map[int64]*model.Campaign),
		matches:    make(map[int64]*model.Match),
		byToken:    make(map[string]int64),
		byCampaign: make(map[int64][]int64),
		locks:      make(map[int64]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateCampaign(_ context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCampaignID++
	c.ID = s.nextCampaignID
	stored := *c
	s.campaigns[c.ID] = &stored
	s.locks[c.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id int64) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, model.ErrCampaignNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) ListCampaigns(_ context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Campaign
	for _, c := range s.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CompleteCampaign(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.Status != model.CampaignRunning {
		return false, nil
	}
	c.Status = model.CampaignCompleted
	c.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) CampaignStats(_ context.Context, id int64, now time.Time) (model.CampaignStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats model.CampaignStats
	for _, mid := range s.byCampaign[id] {
		m := s.matches[mid]
		stats.Total++
		if m.IsConfirmed() {
			stats.Confirmed++
		}
		if m.SMSSentAt != nil {
			stats.SMSSent++
		}
		if m.MailSentAt != nil {
			stats.MailSent++
		}
		if m.IsPending(now) {
			stats.Pending++
		}
	}
	return stats, nil
}

func (s *MemoryStore) CreateMatches(_ context.Context, matches []*model.Match) ([]*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the batch is all or nothing, so check everything before storing anything
	tokens := make(map[string]bool, len(matches))
	for _, m := range matches {
		if _, ok := s.campaigns[m.CampaignID]; !ok {
			return nil, fmt.Errorf("failed to insert match batch: %w", model.ErrCampaignNotFound)
		}
		if _, ok := s.byToken[m.ConfirmationToken]; ok || tokens[m.ConfirmationToken] {
			return nil, fmt.Errorf("failed to insert match batch: duplicate token")
		}
		tokens[m.ConfirmationToken] = true
	}

	existing := make(map[int64]map[string]bool)
	created := make([]*model.Match, 0, len(matches))
	for _, m := range matches {
		users, ok := existing[m.CampaignID]
		if !ok {
			users = make(map[string]bool)
			for _, mid := range s.byCampaign[m.CampaignID] {
				users[s.matches[mid].UserID] = true
			}
			existing[m.CampaignID] = users
		}
		if users[m.UserID] {
			continue
		}
		users[m.UserID] = true

		s.nextMatchID++
		m.ID = s.nextMatchID
		stored := *m
		s.matches[m.ID] = &stored
		s.byToken[m.ConfirmationToken] = m.ID
		s.byCampaign[m.CampaignID] = append(s.byCampaign[m.CampaignID], m.ID)
		created = append(created, m)
	}
	return created, nil
}

func (s *MemoryStore) GetMatchByToken(_ context.Context, token string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, model.ErrInvalidToken
	}
	out := *s.matches[id]
	return &out, nil
}

func (s *MemoryStore) ListMatches(_ context.Context, campaignID int64) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Match, 0, len(s.byCampaign[campaignID]))
	for _, id := range s.byCampaign[campaignID] {
		out = append(out, *s.matches[id])
	}
	return out, nil
}

func (s *MemoryStore) ListConfirmedMatches(_ context.Context, campaignID int64) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Match
	for _, id := range s.byCampaign[campaignID] {
		if m := s.matches[id]; m.IsConfirmed() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ConfirmedAt, out[j].ConfirmedAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) RecordOutreach(_ context.Context, token string, channel model.OutreachChannel, at time.Time) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, model.ErrInvalidToken
	}
	m := s.matches[id]
	switch channel {
	case model.ChannelSMS:
		if m.SMSSentAt == nil {
			m.SMSSentAt = &at
		}
	case model.ChannelEmail:
		if m.MailSentAt == nil {
			m.MailSentAt = &at
		}
	default:
		return nil, fmt.Errorf("unknown outreach channel %q", channel)
	}
	out := *m
	return &out, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, matchID int64, reason model.FailureReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFailureLocked(matchID, reason)
	return nil
}

func (s *MemoryStore) recordFailureLocked(matchID int64, reason model.FailureReason) {
	if m, ok := s.matches[matchID]; ok && !m.IsConfirmed() {
		r := reason
		m.ConfirmationFailedReason = &r
	}
}

// WithCampaignLock holds the campaign mutex for the duration of fn. Writes
// made through the CampaignTx are applied immediately, so fn must only write
// once its decision is final.
func (s *MemoryStore) WithCampaignLock(ctx context.Context, campaignID int64, fn func(tx CampaignTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[campaignID]
	s.mu.RUnlock()
	if !ok {
		return model.ErrCampaignNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	return fn(&memoryCampaignTx{store: s, campaign: campaign})
}

type memoryCampaignTx struct {
	store    *MemoryStore
	campaign *model.Campaign
}

func (t *memoryCampaignTx) Campaign() *model.Campaign {
	return t.campaign
}

func (t *memoryCampaignTx) ConfirmedCount(_ context.Context) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.countConfirmedLocked(t.campaign.ID), nil
}

func (s *MemoryStore) countConfirmedLocked(campaignID int64) int {
	n := 0
	for _, id := range s.byCampaign[campaignID] {
		if s.matches[id].IsConfirmed() {
			n++
		}
	}
	return n
}

func (t *memoryCampaignTx) ConfirmMatch(_ context.Context, matchID int64, at time.Time) (bool, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok || m.CampaignID != t.campaign.ID || m.IsConfirmed() {
		return false, nil
	}
	if s.countConfirmedLocked(t.campaign.ID) >= s.campaigns[t.campaign.ID].AvailableDoses {
		return false, nil
	}
	m.ConfirmedAt = &at
	m.ConfirmationFailedReason = nil
	return true, nil
}

func (t *memoryCampaignTx) RecordFailure(_ context.Context, matchID int64, reason model.FailureReason) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.recordFailureLocked(matchID, reason)
	return nil
}

func (t *memoryCampaignTx) SaveCancellation(_ context.Context, c *model.Campaign) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.campaigns[c.ID]
	if !ok {
		return model.ErrCampaignNotFound
	}
	if stored.IsCanceled() {
		return nil
	}
	updated := *c
	s.campaigns[c.ID] = &updated
	t.campaign = c
	return nil
}
