package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"poolbridge/internal/clienterr"
	"poolbridge/internal/jobstore"
	"poolbridge/internal/numeral"
	"poolbridge/internal/relayer"

	"github.com/google/uuid"
)

type rootResponse struct {
	Index string `json:"index"`
	Root  string `json:"root"`
}

type nullifierResponse struct {
	Nullifier string `json:"nullifier"`
	Spent     bool   `json:"spent"`
}

type feeResponse struct {
	Fee string `json:"fee"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
	State string `json:"state"`
}

var knownTxTypes = map[string]bool{
	relayer.TxTypeDeposit:            true,
	relayer.TxTypeTransfer:           true,
	relayer.TxTypeWithdrawal:         true,
	relayer.TxTypePermittableDeposit: true,
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	index, root, err := s.pool.CurrentRoot(r.Context())
	if err != nil {
		s.writeClientError(w, "read current root", err)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{
		Index: index.Dec(),
		Root:  numeral.FormatField(root),
	})
}

func (s *Server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("nullifier")
	nullifier, err := numeral.ParseField(raw)
	if err != nil {
		http.Error(w, "nullifier must be a decimal field element: "+err.Error(), http.StatusBadRequest)
		return
	}
	spent, err := s.pool.NullifierExists(r.Context(), nullifier)
	if err != nil {
		s.writeClientError(w, "read nullifier", err)
		return
	}
	writeJSON(w, http.StatusOK, nullifierResponse{Nullifier: numeral.FormatField(nullifier), Spent: spent})
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.relayer.Fee(r.Context())
	if err != nil {
		s.writeClientError(w, "read relayer fee", err)
		return
	}
	writeJSON(w, http.StatusOK, feeResponse{Fee: strconv.FormatUint(fee, 10)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var batch []relayer.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateBatch(batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range batch {
		if batch[i].UUID == nil {
			id := uuid.NewString()
			batch[i].UUID = &id
		}
	}

	ctx := r.Context()
	jobID, err := s.relayer.SendTransactions(ctx, batch)
	if err != nil {
		s.tel.IncSubmission("failed")
		s.writeClientError(w, "submit transactions", err)
		return
	}
	s.tel.IncSubmission("accepted")

	now := s.now().UTC()
	record := jobstore.Record{
		JobID:     jobID,
		State:     jobstore.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, record); err != nil {
		s.logger.Error("failed to store accepted job", "job_id", jobID, "error", err)
	}
	s.logger.Info("transactions forwarded", "job_id", jobID, "count", len(batch))
	s.watchInBackground(jobID)

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID, State: jobstore.StatePending})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	ctx := r.Context()

	stored, err := s.store.Get(ctx, id)
	if err != nil {
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	if stored != nil && stored.State != jobstore.StatePending {
		writeJSON(w, http.StatusOK, stored)
		return
	}

	job, err := s.relayer.Job(ctx, id)
	if err != nil {
		s.writeClientError(w, "read job", err)
		return
	}
	if stored != nil {
		if err := relayer.CheckTransition(stored.Baseline(job), job); err != nil {
			s.writeClientError(w, "read job", err)
			return
		}
	}

	record := jobstore.FromJob(job, s.now().UTC())
	if err := s.store.Save(ctx, record); err != nil {
		if errors.Is(err, jobstore.ErrSettled) {
			// The background watch settled the job while the relayer was asked.
			if settled, gerr := s.store.Get(ctx, id); gerr == nil && settled != nil {
				writeJSON(w, http.StatusOK, settled)
				return
			}
		}
		s.logger.Error("failed to store job observation", "job_id", id, "error", err)
	}
	s.tel.IncJobPoll(job.State.String())
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) watchInBackground(jobID string) {
	if s.watcher == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.watcher.Wait(s.bgCtx, jobID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("background job watch ended", "job_id", jobID, "error", err)
		}
	}()
}

func validateBatch(batch []relayer.TransactionRequest) error {
	if len(batch) == 0 {
		return errors.New("at least one transaction is required")
	}
	for i, tx := range batch {
		if !knownTxTypes[tx.TxType] {
			return fmt.Errorf("transaction %d: unknown txType %q", i, tx.TxType)
		}
		if len(tx.Proof.Inputs) == 0 {
			return fmt.Errorf("transaction %d: proof inputs are required", i)
		}
		if tx.Memo == "" {
			return fmt.Errorf("transaction %d: memo is required", i)
		}
	}
	return nil
}

// statusFor maps a client failure onto the status this API answers with.
func statusFor(err error) int {
	switch clienterr.KindOf(err) {
	case clienterr.KindTimeout:
		return http.StatusGatewayTimeout
	case clienterr.KindService:
		var ce *clienterr.Error
		if errors.As(err, &ce) && ce.Status >= 400 && ce.Status < 500 {
			return ce.Status
		}
		return http.StatusBadGateway
	case clienterr.KindTransport, clienterr.KindProtocol, clienterr.KindNodeInconsistency, clienterr.KindABI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeClientError(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	s.logger.Warn("upstream call failed", "action", action, "kind", clienterr.KindOf(err).String(), "status", status, "error", err)
	http.Error(w, "failed to "+action+": "+err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
