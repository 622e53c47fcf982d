package api

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/internal/sequencer"
	"github.com/gezibash/arc-provenance/pkg/wire"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req wire.TransitionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, badRequestf("invalid request body: %v", err))
		return
	}
	tr, err := toTransition(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rc, err := s.seq.Submit(r.Context(), sequencer.Request{
		Caller:     callerFrom(r.Context()),
		Nonce:      req.Nonce,
		Transition: tr,
	})
	if err != nil {
		slog.DebugContext(r.Context(), "transition rejected",
			"request_id", requestIDFrom(r.Context()), "op", tr.Op, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireReceipt(rc))
}

func roleParam(r *http.Request) (registry.Role, error) {
	role := registry.ParseRole(chi.URLParam(r, "role"))
	if !role.Valid() {
		return role, badRequestf("invalid role %q", chi.URLParam(r, "role"))
	}
	return role, nil
}

// requiredPrincipal parses a path parameter that must be present.
func requiredPrincipal(r *http.Request, name string) (registry.Principal, error) {
	p, err := registry.ParsePrincipal(chi.URLParam(r, name))
	if err != nil {
		return p, badRequestf("%s: %v", name, err)
	}
	return p, nil
}

func requiredHash(r *http.Request) (registry.Hash, error) {
	h, err := registry.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		return h, badRequestf("hash: %v", err)
	}
	return h, nil
}

func (s *Server) handleRoleMembers(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.RoleMembers{
		Role:    string(role),
		Members: principalStrings(s.machine.RoleMembers(role)),
	})
}

func (s *Server) handleHasRole(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := requiredPrincipal(r, "principal")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.RoleCheck{
		Role:      string(role),
		Principal: p.String(),
		HasRole:   s.machine.HasRole(role, p),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	h, err := requiredHash(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.machine.GetDocument(h)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireDocument(d))
}

func (s *Server) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	h, err := requiredHash(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Verification{Hash: h.String(), Registered: s.machine.VerifyDocument(h)})
}

func (s *Server) handleDocumentsByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := requiredPrincipal(r, "owner")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.OwnerDocuments{
		Owner:  owner.String(),
		Hashes: hashStrings(s.machine.GetDocumentsByOwner(owner)),
	})
}

func (s *Server) handleCanView(w http.ResponseWriter, r *http.Request) {
	h, err := requiredHash(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	viewer, err := requiredPrincipal(r, "viewer")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AccessCheck{
		Hash:    h.String(),
		Viewer:  viewer.String(),
		Allowed: s.machine.CanView(h, viewer),
	})
}

func (s *Server) handleViewerKey(w http.ResponseWriter, r *http.Request) {
	h, err := requiredHash(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	viewer, err := requiredPrincipal(r, "viewer")
	if err != nil {
		writeError(w, r, err)
		return
	}
	blob, err := s.machine.GetViewerKey(callerFrom(r.Context()), h, viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ViewerKey{Hash: h.String(), Viewer: viewer.String(), KeyBlob: blob})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	p, err := requiredPrincipal(r, "principal")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.Nonce{Principal: p.String(), Nonce: s.seq.Nonce(p)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, r, badRequestf("after: %v", err))
			return
		}
		after = n
	}
	limit := defaultEventsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, badRequestf("limit must be a positive integer"))
			return
		}
		limit = min(n, maxEventsLimit)
	}

	entries, err := s.store.Entries(r.Context(), after, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := wire.Events{Entries: make([]wire.JournalEntry, len(entries)), Next: after}
	for i, e := range entries {
		page.Entries[i] = toWireEntry(e)
		page.Next = e.Transition.Height
	}
	writeJSON(w, http.StatusOK, page)
}

// handleStream writes matching records as NDJSON until the client goes away
// or the feed closes. Records committed before the subscription are not sent;
// clients catch up through /v1/events first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, badRequestf("streaming unsupported"))
		return
	}
	sub, err := s.feed.Subscribe(r.URL.Query().Get("filter"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Cancel()

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-sub.Records():
			if !ok {
				return
			}
			if err := enc.Encode(toWireRecord(rec)); err != nil {
				slog.DebugContext(r.Context(), "event stream write failed",
					"subscription_id", sub.ID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	digest := s.machine.Digest()
	st := wire.Status{
		Initialized: s.machine.Initialized(),
		Height:      s.machine.Height(),
		Timestamp:   s.machine.Timestamp(),
		Digest:      "0x" + hex.EncodeToString(digest[:]),
		Backend:     s.cfg.Backend,
		Subscribers: s.feed.Len(),
		Version:     s.cfg.Version,
	}
	if stats, err := s.store.Stats(r.Context()); err == nil {
		st.Keys = stats.Keys
	}
	writeJSON(w, http.StatusOK, st)
}
