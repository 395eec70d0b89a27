package cledger

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

type issuerKeysID struct {
	schema SchemaID
	issuer string
}

// MemoryStore is a [Store] that keeps everything in memory,
// intended for development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	seq uint64

	reqIDs     map[uuid.UUID]struct{}
	schemas    map[SchemaID]SchemaRecord
	issuerKeys map[issuerKeysID]IssuerKeyRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reqIDs:     make(map[uuid.UUID]struct{}),
		schemas:    make(map[SchemaID]SchemaRecord),
		issuerKeys: make(map[issuerKeysID]IssuerKeyRecord),
	}
}

func (s *MemoryStore) InsertSchema(_ context.Context, reqID uuid.UUID, rec SchemaRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reqIDs[reqID]; ok {
		return 0, &DuplicateRequestError{ReqID: reqID}
	}
	if _, ok := s.schemas[rec.ID]; ok {
		return 0, &SchemaExistsError{ID: rec.ID}
	}

	s.seq++
	rec.SeqNo = s.seq
	rec.AttrNames = slices.Clone(rec.AttrNames)

	s.reqIDs[reqID] = struct{}{}
	s.schemas[rec.ID] = rec
	return rec.SeqNo, nil
}

func (s *MemoryStore) InsertIssuerKeys(_ context.Context, reqID uuid.UUID, rec IssuerKeyRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reqIDs[reqID]; ok {
		return 0, &DuplicateRequestError{ReqID: reqID}
	}
	id := issuerKeysID{schema: rec.SchemaID, issuer: rec.IssuerID}
	if _, ok := s.issuerKeys[id]; ok {
		return 0, &IssuerKeysExistError{SchemaID: rec.SchemaID, IssuerID: rec.IssuerID}
	}

	s.seq++
	rec.SeqNo = s.seq

	s.reqIDs[reqID] = struct{}{}
	s.issuerKeys[id] = rec
	return rec.SeqNo, nil
}

func (s *MemoryStore) Schema(_ context.Context, id SchemaID) (SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.schemas[id]
	if !ok {
		return SchemaRecord{}, NotFoundError{Entity: "schema", Key: string(id)}
	}
	rec.AttrNames = slices.Clone(rec.AttrNames)
	return rec, nil
}

func (s *MemoryStore) IssuerKeys(_ context.Context, id SchemaID, issuer string) (IssuerKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.issuerKeys[issuerKeysID{schema: id, issuer: issuer}]
	if !ok {
		return IssuerKeyRecord{}, NotFoundError{Entity: "issuer keys", Key: string(id) + "/" + issuer}
	}
	return rec, nil
}

func (s *MemoryStore) Schemas(_ context.Context, issuer string) ([]SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SchemaRecord
	for _, rec := range s.schemas {
		if rec.IssuerID == issuer {
			rec.AttrNames = slices.Clone(rec.AttrNames)
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b SchemaRecord) int {
		return cmp.Compare(a.SeqNo, b.SeqNo)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
