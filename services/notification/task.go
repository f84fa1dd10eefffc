package notification

import (
	"encoding/json"
	"time"

	"talentgrid-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
)

// Payloads for post-commit side effects. Delivery (mail, webhooks) lives in
// the worker process; a lost notification never affects core state.

type LicenseeEventPayload struct {
	LicenseeID  string `json:"licensee_id"`
	CompanyName string `json:"company_name"`
	Actor       string `json:"actor"`
	Notes       string `json:"notes,omitempty"`
}

type JobEventPayload struct {
	JobID        string `json:"job_id"`
	ConsultantID string `json:"consultant_id,omitempty"`
	TerritoryID  string `json:"territory_id,omitempty"`
	Actor        string `json:"actor"`
}

type SettlementEventPayload struct {
	SettlementID     string `json:"settlement_id"`
	LicenseeID       string `json:"licensee_id"`
	Code             string `json:"code"`
	PaymentReference string `json:"payment_reference,omitempty"`
}

func NewLicenseeSuspendedTask(p LicenseeEventPayload) *asynq.Task {
	return newTask(taskname.LicenseeSuspended, p)
}

func NewLicenseeReactivatedTask(p LicenseeEventPayload) *asynq.Task {
	return newTask(taskname.LicenseeReactivated, p)
}

func NewLicenseeTerminatedTask(p LicenseeEventPayload) *asynq.Task {
	return newTask(taskname.LicenseeTerminated, p)
}

func NewJobAssignedTask(p JobEventPayload) *asynq.Task {
	return newTask(taskname.JobAssigned, p)
}

func NewJobUnassignedTask(p JobEventPayload) *asynq.Task {
	return newTask(taskname.JobUnassigned, p)
}

func NewSettlementGeneratedTask(p SettlementEventPayload) *asynq.Task {
	return newTask(taskname.SettlementGenerated, p)
}

func NewSettlementPaidTask(p SettlementEventPayload) *asynq.Task {
	return newTask(taskname.SettlementPaid, p)
}

func newTask(name string, payload any) *asynq.Task {
	b, _ := json.Marshal(payload)
	return asynq.NewTask(name, b,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Queue("default"))
}
