package harness

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/remote"
)

// RecordingService is an in-memory remote.Service that logs every call.
//
// Remote ids are assigned in call order: r-1, r-2, ... across kinds.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingService struct {
	mu      sync.Mutex
	records map[entity.Kind]map[string]entity.Payload
	calls   []Call
	nextID  int

	failing    bool
	failBudget int // calls left to fail; 0 with failing set means until Heal
}

// NewRecordingService creates an empty, healthy service.
func NewRecordingService() *RecordingService {
	return &RecordingService{records: make(map[entity.Kind]map[string]entity.Payload)}
}

// Collection implements remote.Service.
func (s *RecordingService) Collection(kind entity.Kind) remote.Collection {
	if !kind.Valid() {
		return nil
	}
	return &recordingCollection{svc: s, kind: kind}
}

// Fail makes the next n calls fail with 503. n == 0 fails every call until
// Heal.
func (s *RecordingService) Fail(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = true
	s.failBudget = n
}

// Heal stops failing calls.
func (s *RecordingService) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = false
	s.failBudget = 0
}

// Calls returns a copy of the call log.
func (s *RecordingService) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Records returns copies of the stored records of kind, ordered by remote id
// number.
func (s *RecordingService) Records(kind entity.Kind) []entity.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.records[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	out := make([]entity.Payload, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[kind][id].Clone())
	}
	return out
}

// begin logs a call and reports whether it must fail. Caller holds s.mu.
func (s *RecordingService) begin(method string, kind entity.Kind, remoteID string, payload entity.Payload) error {
	call := Call{
		Seq:      len(s.calls) + 1,
		Method:   method,
		Kind:     string(kind),
		RemoteID: remoteID,
		Fields:   fieldNames(payload),
	}
	if s.failing {
		call.Failed = true
		if s.failBudget > 0 {
			s.failBudget--
			if s.failBudget == 0 {
				s.failing = false
			}
		}
	}
	s.calls = append(s.calls, call)
	if call.Failed {
		return unavailable(method, kind, remoteID)
	}
	return nil
}

type recordingCollection struct {
	svc  *RecordingService
	kind entity.Kind
}

func (c *recordingCollection) Create(_ context.Context, payload entity.Payload) (remote.Record, error) {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("create", c.kind, "", payload); err != nil {
		return nil, err
	}
	s.nextID++
	id := fmt.Sprintf("r-%d", s.nextID)
	rec := payload.Clone()
	if rec == nil {
		rec = entity.Payload{}
	}
	rec["id"] = id
	if s.records[c.kind] == nil {
		s.records[c.kind] = make(map[string]entity.Payload)
	}
	s.records[c.kind][id] = rec
	return rec.Clone(), nil
}

func (c *recordingCollection) Update(_ context.Context, remoteID string, patch entity.Payload) (remote.Record, error) {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("update", c.kind, remoteID, patch); err != nil {
		return nil, err
	}
	rec, ok := s.records[c.kind][remoteID]
	if !ok {
		return nil, &remote.StatusError{
			Method:     http.MethodPatch,
			Path:       entityPath(c.kind, remoteID),
			StatusCode: http.StatusNotFound,
			Body:       "not found",
		}
	}
	merged := rec.Merge(patch)
	merged["id"] = remoteID
	s.records[c.kind][remoteID] = merged
	return merged.Clone(), nil
}

// Delete is idempotent: deleting a missing record succeeds.
func (c *recordingCollection) Delete(_ context.Context, remoteID string) error {
	s := c.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete", c.kind, remoteID, nil); err != nil {
		return err
	}
	delete(s.records[c.kind], remoteID)
	return nil
}

func unavailable(method string, kind entity.Kind, remoteID string) error {
	return &remote.StatusError{
		Method:     method,
		Path:       entityPath(kind, remoteID),
		StatusCode: http.StatusServiceUnavailable,
		Body:       "unavailable",
	}
}

func entityPath(kind entity.Kind, id string) string {
	if id == "" {
		return "/entities/" + string(kind)
	}
	return "/entities/" + string(kind) + "/" + id
}

func fieldNames(p entity.Payload) []string {
	if len(p) == 0 {
		return nil
	}
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
