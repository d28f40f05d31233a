package cloudapitest

import (
	"encoding/json"
	"net/http"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/go-chi/chi/v5"
)

type payload = map[string]interface{}

func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	cid, invID := utils.UUID(), utils.UUID()

	s.mu.Lock()
	s.conns[cid] = &connection{id: cid, wallet: wallet(r)}
	s.invitations[invID] = cid
	s.mu.Unlock()

	s.Publish(wallet(r), "connections", payload{
		"connection_id": cid, "state": string(psm.InvitationSent)})
	writeJSON(w, payload{
		"connection_id": cid,
		"invitation": payload{
			"@id":   invID,
			"@type": "https://didcomm.org/out-of-band/1.1/invitation",
		},
	})
}

func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Alias      string `json:"alias"`
		Invitation struct {
			ID string `json:"@id"`
		} `json:"invitation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"detail":"bad body"}`, http.StatusUnprocessableEntity)
		return
	}
	s.mu.Lock()
	initiator, ok := s.conns[s.invitations[in.Invitation.ID]]
	if !ok {
		s.mu.Unlock()
		notFound(w, "invitation")
		return
	}
	cid := utils.UUID()
	s.conns[cid] = &connection{id: cid, wallet: wallet(r), peer: initiator.id}
	initiator.peer = cid
	s.mu.Unlock()

	responder := wallet(r)
	conn := func(w, id string, st psm.State) func() {
		return func() {
			s.Publish(w, "connections", payload{"connection_id": id, "state": string(st)})
		}
	}
	s.publishLater(
		conn(responder, cid, psm.RequestSent),
		conn(initiator.wallet, initiator.id, psm.RequestReceived),
		conn(initiator.wallet, initiator.id, psm.ResponseSent),
		conn(responder, cid, psm.Completed),
		conn(initiator.wallet, initiator.id, psm.Completed),
	)
	writeJSON(w, payload{"connection_id": cid, "state": string(psm.RequestSent)})
}

func (s *Server) peerConnection(id, walletID string) (*connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok || c.wallet != walletID || c.peer == "" {
		return nil, false
	}
	peer, ok := s.conns[c.peer]
	return peer, ok
}

func credEvent(s *Server, rec *record, st psm.State) func() {
	return func() {
		s.Publish(rec.wallet, "credentials", payload{
			"thread_id": rec.thread, "credential_id": rec.id, "state": string(st)})
	}
}

func (s *Server) sendCredential(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConnectionID string `json:"connection_id"`
		Detail       struct {
			CredDefID string `json:"credential_definition_id"`
		} `json:"indy_credential_detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Detail.CredDefID == "" {
		http.Error(w, `{"detail":"bad body"}`, http.StatusUnprocessableEntity)
		return
	}
	peer, ok := s.peerConnection(in.ConnectionID, wallet(r))
	if !ok {
		notFound(w, "connection")
		return
	}
	thread := utils.UUID()
	issuer := &record{id: "v1-" + utils.UUID(), wallet: wallet(r), thread: thread}
	holder := &record{id: "v1-" + utils.UUID(), wallet: peer.wallet, thread: thread,
		peer: issuer.id}
	issuer.peer = holder.id

	s.mu.Lock()
	s.creds[issuer.id] = issuer
	s.creds[holder.id] = holder
	s.mu.Unlock()

	credEvent(s, issuer, psm.OfferSent)()
	s.publishLater(credEvent(s, holder, psm.OfferReceived))
	writeJSON(w, payload{"credential_id": issuer.id, "thread_id": thread,
		"state": string(psm.OfferSent)})
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	thread := r.URL.Query().Get("thread_id")
	s.mu.Lock()
	list := []payload{}
	for _, rec := range s.creds {
		if rec.wallet == wallet(r) && (thread == "" || rec.thread == thread) {
			list = append(list, payload{"credential_id": rec.id, "thread_id": rec.thread})
		}
	}
	s.mu.Unlock()
	writeJSON(w, list)
}

func (s *Server) requestCredential(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	holder, ok := s.creds[chi.URLParam(r, "id")]
	var issuer *record
	if ok {
		issuer, ok = s.creds[holder.peer]
	}
	s.mu.Unlock()
	if !ok || holder.wallet != wallet(r) {
		notFound(w, "credential")
		return
	}
	s.publishLater(
		credEvent(s, holder, psm.RequestSent),
		credEvent(s, issuer, psm.RequestReceived),
		credEvent(s, issuer, psm.CredentialIssued),
		credEvent(s, holder, "credential-received"),
		credEvent(s, holder, psm.Done),
		credEvent(s, issuer, psm.Done),
	)
	writeJSON(w, payload{"credential_id": holder.id, "thread_id": holder.thread,
		"state": string(psm.RequestSent)})
}

func (s *Server) revokeCredential(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"credential_exchange_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"detail":"bad body"}`, http.StatusUnprocessableEntity)
		return
	}
	s.mu.Lock()
	rec, ok := s.creds[in.ID]
	s.mu.Unlock()
	if !ok || rec.wallet != wallet(r) {
		notFound(w, "credential exchange")
		return
	}
	s.publishLater(credEvent(s, rec, psm.Revoked))
	writeJSON(w, payload{})
}

func proofEvent(s *Server, rec *record, st psm.State, extra payload) func() {
	return func() {
		pl := payload{"thread_id": rec.thread, "proof_id": rec.id, "state": string(st)}
		for k, v := range extra {
			pl[k] = v
		}
		s.mu.Lock()
		rec.state = st
		if v, ok := extra["verified"].(bool); ok {
			rec.verified = &v
		}
		s.mu.Unlock()
		s.Publish(rec.wallet, "proofs", pl)
	}
}

func (s *Server) sendProofRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"detail":"bad body"}`, http.StatusUnprocessableEntity)
		return
	}
	peer, ok := s.peerConnection(in.ConnectionID, wallet(r))
	if !ok {
		notFound(w, "connection")
		return
	}
	thread := utils.UUID()
	verifier := &record{id: "v2-" + utils.UUID(), wallet: wallet(r), thread: thread}
	prover := &record{id: "v2-" + utils.UUID(), wallet: peer.wallet, thread: thread,
		peer: verifier.id}
	verifier.peer = prover.id

	s.mu.Lock()
	s.proofs[verifier.id] = verifier
	s.proofs[prover.id] = prover
	s.mu.Unlock()

	proofEvent(s, verifier, psm.RequestSent, nil)()
	s.publishLater(proofEvent(s, prover, psm.RequestReceived, nil))
	writeJSON(w, payload{"proof_id": verifier.id, "thread_id": thread,
		"state": string(psm.RequestSent)})
}

func (s *Server) listProofs(w http.ResponseWriter, r *http.Request) {
	thread := r.URL.Query().Get("thread_id")
	s.mu.Lock()
	list := []payload{}
	for _, rec := range s.proofs {
		if rec.wallet == wallet(r) && (thread == "" || rec.thread == thread) {
			list = append(list, payload{"proof_id": rec.id, "thread_id": rec.thread})
		}
	}
	s.mu.Unlock()
	writeJSON(w, list)
}

func (s *Server) getProof(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.proofs[chi.URLParam(r, "id")]
	if !ok || rec.wallet != wallet(r) {
		notFound(w, "proof")
		return
	}
	pl := payload{"proof_id": rec.id, "thread_id": rec.thread, "state": string(rec.state)}
	if rec.verified != nil {
		pl["verified"] = *rec.verified
	}
	writeJSON(w, pl)
}

func (s *Server) proofCredentials(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec, ok := s.proofs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok || rec.wallet != wallet(r) {
		notFound(w, "proof")
		return
	}
	writeJSON(w, []payload{{"cred_info": payload{"referent": "ref-" + rec.thread}}})
}

func (s *Server) acceptProofRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProofID string `json:"proof_id"`
		Spec    struct {
			Attrs map[string]struct {
				CredID string `json:"cred_id"`
			} `json:"requested_attributes"`
		} `json:"indy_presentation_spec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"detail":"bad body"}`, http.StatusUnprocessableEntity)
		return
	}
	s.mu.Lock()
	prover, ok := s.proofs[in.ProofID]
	var verifier *record
	if ok {
		verifier, ok = s.proofs[prover.peer]
	}
	s.mu.Unlock()
	if !ok || prover.wallet != wallet(r) {
		notFound(w, "proof")
		return
	}
	for _, a := range in.Spec.Attrs {
		if a.CredID != "ref-"+prover.thread {
			http.Error(w, `{"detail":"unknown referent"}`, http.StatusBadRequest)
			return
		}
	}
	dones := []func(){
		proofEvent(s, verifier, psm.Done, payload{"verified": !s.RejectProofs}),
		proofEvent(s, prover, psm.Done, nil),
	}
	if s.ProverDoneFirst {
		dones[0], dones[1] = dones[1], dones[0]
	}
	s.publishLater(append([]func(){
		proofEvent(s, prover, psm.PresentationSent, nil),
		proofEvent(s, verifier, "presentation-received", nil),
	}, dones...)...)
	writeJSON(w, payload{"proof_id": prover.id, "thread_id": prover.thread,
		"state": string(psm.PresentationSent)})
}
