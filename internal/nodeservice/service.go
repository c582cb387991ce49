// Package nodeservice implements the node's TCP request service: one
// connection carries exactly one request/response exchange, dispatched by
// message kind per the wire protocol.
package nodeservice

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/metadata"
	"github.com/redbackup/backend/internal/observability"
	"github.com/redbackup/backend/internal/ratelimit"
	"github.com/redbackup/backend/internal/wire"
)

// Service holds the dependencies shared by every connection handler.
type Service struct {
	Metadata *metadata.Store
	Blobs    *blobstore.Store
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Limiter  *ratelimit.TokenBucket
}

// New constructs a Service. limiter may be nil to disable accept-rate limiting.
func New(meta *metadata.Store, blobs *blobstore.Store, logger *observability.Logger, metrics *observability.Metrics, limiter *ratelimit.TokenBucket) *Service {
	return &Service{Metadata: meta, Blobs: blobs, Logger: logger, Metrics: metrics, Limiter: limiter}
}

// Serve accepts connections on ln until it returns an error (typically from
// listener closure during shutdown).
func (s *Service) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if s.Limiter != nil {
			s.Limiter.Wait(1)
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	defer conn.Close()

	if s.Metrics != nil {
		s.Metrics.RecordConnectionAccepted()
	}
	if s.Logger != nil {
		s.Logger.ConnectionAccepted(conn.RemoteAddr().String(), connID)
	}

	err := s.handleOne(conn, connID)

	if s.Metrics != nil {
		s.Metrics.RecordConnectionClosed(err == nil)
	}
	if s.Logger != nil {
		s.Logger.ConnectionClosed(connID, err)
	}
}

func (s *Service) handleOne(conn net.Conn, connID string) error {
	req, err := wire.ReadMessage(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("nodeservice: read request: %w", err)
	}

	started := time.Now()
	resp := s.dispatch(req)
	duration := time.Since(started)

	if s.Logger != nil {
		s.Logger.RequestHandled(connID, requestKindName(req.Body), duration)
	}
	if s.Metrics != nil {
		_, isError := resp.Body.(wire.InternalError)
		s.Metrics.RecordRequest(requestKindName(req.Body), !isError, duration.Seconds())
	}

	if err := wire.WriteMessage(conn, resp); err != nil {
		return fmt.Errorf("nodeservice: write response: %w", err)
	}
	return nil
}

func requestKindName(body interface{}) string {
	switch body.(type) {
	case wire.GetDesignation:
		return wire.KindGetDesignation
	case wire.GetChunkStates:
		return wire.KindGetChunkStates
	case wire.PostChunks:
		return wire.KindPostChunks
	case wire.GetRootHandles:
		return wire.KindGetRootHandles
	case wire.GetChunks:
		return wire.KindGetChunks
	default:
		return "Unknown"
	}
}

// dispatch routes a decoded request body to its handler. Metadata-table
// failures are answered with an InternalError response and unknown kinds
// with InvalidRequest, so the connection still gets a well-formed reply.
func (s *Service) dispatch(req wire.Message) wire.Message {
	switch body := req.Body.(type) {
	case wire.GetDesignation:
		return s.handleGetDesignation(body)
	case wire.GetChunkStates:
		return s.handleGetChunkStates(body)
	case wire.PostChunks:
		return s.handlePostChunks(body)
	case wire.GetRootHandles:
		return s.handleGetRootHandles(body)
	case wire.GetChunks:
		return s.handleGetChunks(body)
	default:
		return wire.NewInvalidRequest("Node cannot handle this message kind")
	}
}

// handleGetDesignation always grants: the node imposes no storage quota in
// this build (see the preserved Open Question on quota enforcement).
func (s *Service) handleGetDesignation(req wire.GetDesignation) wire.Message {
	if s.Logger != nil {
		s.Logger.DesignationGranted("", req.EstimateSize, true)
	}
	return wire.NewReturnDesignation(true)
}

// handleGetChunkStates answers "which of these do you already have, and
// with what retention/root-handle state", applying the merge-update rule to
// each; chunks unknown to the node are omitted from the response.
func (s *Service) handleGetChunkStates(req wire.GetChunkStates) wire.Message {
	in := make([]metadata.Chunk, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		in = append(in, metadata.Chunk{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
	}

	updated, err := s.Metadata.GetAndUpdate(in)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordDatabaseOperation("get_and_update", false)
		}
		return wire.NewInternalError(err.Error())
	}
	if s.Metrics != nil {
		s.Metrics.RecordDatabaseOperation("get_and_update", true)
	}

	out := make([]wire.ChunkElement, 0, len(updated))
	for _, c := range updated {
		out = append(out, wire.ChunkElement{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
	}
	return wire.NewReturnChunkStates(out)
}

// handlePostChunks implements the spec's two disjoint branches per element:
// a chunk already known to the metadata table is acknowledged as-is without
// touching the blob store; a new chunk is persisted then verified, and only
// added to the metadata table (and acknowledged) once durably correct on
// disk. Merge-on-duplicate is GetChunkStates' rule, not this one's.
func (s *Service) handlePostChunks(req wire.PostChunks) wire.Message {
	acked := make([]wire.ChunkElement, 0, len(req.Chunks))

	for _, c := range req.Chunks {
		if _, err := s.Metadata.Get(c.Identifier); err == nil {
			acked = append(acked, wire.ChunkElement{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
			continue
		}

		if !s.persistAndVerify(c) {
			continue
		}

		if _, err := s.Metadata.Add(metadata.Chunk{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle}); err != nil {
			continue
		}

		acked = append(acked, wire.ChunkElement{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
	}

	return wire.NewAcknowledgeChunks(acked)
}

// persistAndVerify writes a brand-new chunk to the blob store and verifies
// it, deleting it again if verification finds it corrupted. Only called for
// chunks not present in the metadata table; a blob already on disk under the
// identifier (with no metadata row) is not rewritten but is verified in place.
func (s *Service) persistAndVerify(c wire.ChunkContentElement) bool {
	computed := blobstore.Identifier(c.ChunkContent)
	if computed != c.Identifier {
		if s.Logger != nil {
			s.Logger.ChunkCorrupted(c.Identifier, c.Identifier, computed)
		}
		return false
	}

	err := s.Blobs.Persist(c.Identifier, c.ChunkContent)
	if err != nil && !errors.Is(err, blobstore.ErrAlreadyExists) {
		return false
	}
	if err == nil {
		if s.Metrics != nil {
			s.Metrics.RecordChunkPersisted()
		}
		if s.Logger != nil {
			s.Logger.ChunkPersisted(c.Identifier, len(c.ChunkContent))
		}
	}

	if verr := s.Blobs.Verify(c.Identifier); verr != nil {
		var corrupted *blobstore.CorruptedError
		if errors.As(verr, &corrupted) {
			if s.Logger != nil {
				s.Logger.ChunkCorrupted(c.Identifier, corrupted.Expected, corrupted.Actual)
			}
			if s.Metrics != nil {
				s.Metrics.RecordChunkCorrupted()
			}
			s.Blobs.Delete(c.Identifier)
			if s.Metrics != nil {
				s.Metrics.RecordChunkDeleted("corrupted_on_write")
			}
		}
		return false
	}
	return true
}

// handleGetRootHandles returns the content of every chunk flagged as a
// backup manifest, skipping any whose blob is missing from disk.
func (s *Service) handleGetRootHandles(_ wire.GetRootHandles) wire.Message {
	roots, err := s.Metadata.GetRootHandles()
	if err != nil {
		return wire.NewInternalError(err.Error())
	}

	out := make([]wire.ChunkContentElement, 0, len(roots))
	for _, c := range roots {
		data, err := s.Blobs.Get(c.Identifier)
		if err != nil {
			continue
		}
		out = append(out, wire.ChunkContentElement{
			Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle, ChunkContent: data,
		})
	}
	return wire.NewReturnRootHandles(out)
}

// handleGetChunks resolves each requested identifier to its content,
// silently omitting identifiers the node has no metadata or blob for.
func (s *Service) handleGetChunks(req wire.GetChunks) wire.Message {
	out := make([]wire.ChunkContentElement, 0, len(req.Identifiers))
	for _, id := range req.Identifiers {
		meta, err := s.Metadata.Get(id)
		if err != nil {
			continue
		}
		data, err := s.Blobs.Get(id)
		if err != nil {
			continue
		}
		out = append(out, wire.ChunkContentElement{
			Identifier: meta.Identifier, Expiration: meta.Expiration, RootHandle: meta.RootHandle, ChunkContent: data,
		})
	}
	return wire.NewReturnChunks(out)
}
