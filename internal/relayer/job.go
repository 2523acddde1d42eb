package relayer

import (
	"fmt"
	"strings"
	"time"

	"poolbridge/internal/clienterr"
)

// decodeJob maps the relayer's wire states onto Pending, Mined and Failed and
// checks that the fields present match the state.
func decodeJob(op, id string, raw jobResponse) (Job, error) {
	job := Job{
		ID:        id,
		CreatedOn: time.UnixMilli(int64(raw.CreatedOn)).UTC(),
	}
	wireState := strings.ToLower(strings.TrimSpace(raw.State))
	switch wireState {
	case "waiting", "queued", "pending", "sending", "sent", "active", "delayed":
		job.State = Pending{}
		return job, nil
	case "completed", "mined", "done":
		if raw.TxHash == nil || *raw.TxHash == "" {
			return Job{}, clienterr.Newf(clienterr.KindProtocol, op, "job %s is %s without a tx hash", id, wireState)
		}
		job.State = Mined{TxHash: *raw.TxHash}
	case "failed", "reverted", "rejected":
		reason := wireState
		if raw.FailedReason != nil && *raw.FailedReason != "" {
			reason = *raw.FailedReason
		}
		job.State = Failed{Reason: reason}
	default:
		return Job{}, clienterr.Newf(clienterr.KindProtocol, op, "job %s has unknown state %q", id, raw.State)
	}
	if raw.FinishedOn == nil {
		return Job{}, clienterr.Newf(clienterr.KindProtocol, op, "job %s is %s without finishedOn", id, wireState)
	}
	finished := time.UnixMilli(int64(*raw.FinishedOn)).UTC()
	job.FinishedOn = &finished
	return job, nil
}

// CheckTransition verifies that next is a legal successor of prev for the
// same job: Pending may stay Pending or become Mined or Failed, terminal
// states never change and created_on is fixed.
func CheckTransition(prev, next Job) error {
	const op = "relayer.job"
	if prev.ID != next.ID {
		return clienterr.Newf(clienterr.KindProtocol, op, "job id changed from %s to %s", prev.ID, next.ID)
	}
	if !prev.CreatedOn.IsZero() && !next.CreatedOn.Equal(prev.CreatedOn) {
		return clienterr.Newf(clienterr.KindProtocol, op, "job %s createdOn changed", prev.ID)
	}
	if prev.State == nil || !prev.State.Terminal() {
		return nil
	}
	if !sameState(prev.State, next.State) {
		return clienterr.Newf(clienterr.KindProtocol, op, "job %s moved from %s to %s", prev.ID, describe(prev.State), describe(next.State))
	}
	return nil
}

func sameState(a, b JobState) bool {
	switch a := a.(type) {
	case Pending:
		_, ok := b.(Pending)
		return ok
	case Mined:
		other, ok := b.(Mined)
		return ok && other.TxHash == a.TxHash
	case Failed:
		other, ok := b.(Failed)
		return ok && other.Reason == a.Reason
	default:
		return false
	}
}

func describe(s JobState) string {
	switch s := s.(type) {
	case nil:
		return "<none>"
	case Mined:
		return fmt.Sprintf("mined(%s)", s.TxHash)
	case Failed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.String()
	}
}
