package indexer

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/pkg/field"
)

// DepositRequest/WithdrawRequest are the bodies the indexer's /deposit and
// /withdraw endpoints accept, forwarded to a Submitter unmodified: the
// indexer never inspects or alters the signed payload, only relays it.
type DepositRequest struct {
	SignedTransaction string `json:"signedTransaction"`
}

// WithdrawRequest carries everything a withdrawal needs beyond the proof
// itself: the "…PDAs" spec.md §6 abbreviates are the commitment/nullifier
// marker addresses and the public inputs the circuit produced, since
// Transact must see both to run its checks.
type WithdrawRequest struct {
	SerializedProof   string    `json:"serializedProof"`
	Root              string    `json:"root"`
	PublicAmount      string    `json:"publicAmount"`
	ExtDataHash       string    `json:"extDataHash"`
	InputNullifier    [2]string `json:"inputNullifier"`
	OutputCommitment  [2]string `json:"outputCommitment"`
	Mint              string    `json:"mint"`
	CommitmentMarkers [2]string `json:"commitmentMarkers"`
	NullifierMarkers  [2]string `json:"nullifierMarkers"`
	Signer            string    `json:"signer"`
	Recipient         string    `json:"recipient"`
	FeeRecipient      string    `json:"feeRecipient"`
	ExtAmount         int64     `json:"extAmount"`
	EncryptedOutput1  string    `json:"encryptedOutput1"`
	EncryptedOutput2  string    `json:"encryptedOutput2"`
	Fee               uint64    `json:"fee"`
	LookupTable       string    `json:"lookupTable"`
}

type submitResult struct {
	Signature string `json:"signature"`
	Success   bool   `json:"success"`
}

// WebhookPayload is the push-ingest body for /zkcash/webhook/transaction:
// one commitment marker, as the verifier emits in its transaction logs.
type WebhookPayload struct {
	Commitment      string `json:"commitment"`
	Index           uint64 `json:"index"`
	EncryptedOutput string `json:"encryptedOutput"`
}

// Submitter is the narrow interface the indexer's HTTP surface needs from
// the relay: pass a signed deposit through unmodified, or build and submit
// a withdrawal from its proof and envelope. internal/relay.Relay
// implements this.
type Submitter interface {
	SubmitDeposit(signedTransaction []byte) (signature string, err error)
	SubmitWithdraw(req WithdrawRequest) (signature string, err error)
}

// Server is the indexer's HTTP surface from spec.md §6.
type Server struct {
	index     *CommitmentIndex
	submitter Submitter
	gossip    *Gossip
}

// NewServer builds a Server over an existing replica. gossip may be nil,
// in which case webhook ingests are not announced to peers (poll ingests
// are announced by ReconcileLoop through its own gossip handle).
func NewServer(index *CommitmentIndex, submitter Submitter, gossip *Gossip) *Server {
	return &Server{index: index, submitter: submitter, gossip: gossip}
}

// Router assembles the chi mux for all §6 endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/merkle/root", s.handleMerkleRoot)
	r.Get("/merkle/proof/{commitment}", s.handleMerkleProofByCommitment)
	r.Get("/merkle/proof/index/{i}", s.handleMerkleProofByIndex)
	r.Get("/utxos", s.handleUTXOs)
	r.Get("/utxos/range", s.handleUTXOsRange)
	r.Get("/utxos/check/{blob}", s.handleUTXOsCheck)
	r.Post("/deposit", s.handleDeposit)
	r.Post("/withdraw", s.handleWithdraw)
	r.Post("/zkcash/webhook/transaction", s.handleWebhook)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Info("indexer request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func fieldFromHex(s string) (field.Element, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return field.Element{}, err
	}
	return field.Reduce(b)
}

func proofToJSON(p *accumulator.Proof) interface{} {
	elements := make([]string, len(p.PathElements))
	for i, e := range p.PathElements {
		b := e.EncodeBE()
		elements[i] = hex.EncodeToString(b[:])
	}
	return map[string]interface{}{
		"pathElements": elements,
		"pathIndices":  p.PathIndices,
	}
}

func (s *Server) handleMerkleRoot(w http.ResponseWriter, r *http.Request) {
	rootBytes := s.index.Root().EncodeBE()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":      hex.EncodeToString(rootBytes[:]),
		"nextIndex": s.index.NextIndex(),
	})
}

func (s *Server) handleMerkleProofByCommitment(w http.ResponseWriter, r *http.Request) {
	commitment, err := fieldFromHex(chi.URLParam(r, "commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, ok := s.index.ProofByCommitment(commitment)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("indexer: commitment not found"))
		return
	}
	writeJSON(w, http.StatusOK, proofToJSON(p))
}

func (s *Server) handleMerkleProofByIndex(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.ParseUint(chi.URLParam(r, "i"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := s.index.ProofByIndex(i)
	writeJSON(w, http.StatusOK, proofToJSON(p))
}

func (s *Server) handleUTXOs(w http.ResponseWriter, r *http.Request) {
	items, total, _ := s.index.EncryptedOutputs(0, s.index.Len())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":            total,
		"encrypted_outputs": hexEncodeAll(items),
	})
}

func (s *Server) handleUTXOsRange(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	end, _ := strconv.Atoi(r.URL.Query().Get("end"))
	items, total, hasMore := s.index.EncryptedOutputs(start, end)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"encrypted_outputs": hexEncodeAll(items),
		"hasMore":           hasMore,
		"total":             total,
		"start":             start,
		"end":               end,
	})
}

func (s *Server) handleUTXOsCheck(w http.ResponseWriter, r *http.Request) {
	blob, err := hex.DecodeString(chi.URLParam(r, "blob"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": s.index.HasEncryptedOutput(blob)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := hex.DecodeString(req.SignedTransaction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := s.submitter.SubmitDeposit(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResult{Signature: sig, Success: true})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := s.submitter.SubmitWithdraw(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResult{Signature: sig, Success: true})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commitment, err := fieldFromHex(payload.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	output, err := hex.DecodeString(payload.EncryptedOutput)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.index.Ingest(commitment, payload.Index, output); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.gossip != nil {
		if err := s.gossip.Announce(CommitmentAnnouncement{Commitment: commitment, Index: payload.Index, EncryptedOutput: output}); err != nil {
			logrus.WithError(err).Warn("indexer: failed to announce ingested commitment")
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func hexEncodeAll(items [][]byte) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = hex.EncodeToString(it)
	}
	return out
}
