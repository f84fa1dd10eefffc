package notification

import (
	"context"
	"encoding/json"

	"talentgrid-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification.module",
	fx.Invoke(RegisterHandlers),
)

// RegisterHandlers binds the notification task types to the worker mux.
// The actual mail/webhook transport hangs off these handlers; today they log
// the event and acknowledge.
func RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.LicenseeSuspended, handleLicenseeEvent("licensee suspended"))
	mux.HandleFunc(taskname.LicenseeReactivated, handleLicenseeEvent("licensee reactivated"))
	mux.HandleFunc(taskname.LicenseeTerminated, handleLicenseeEvent("licensee terminated"))
	mux.HandleFunc(taskname.JobAssigned, handleJobEvent("job assigned"))
	mux.HandleFunc(taskname.JobUnassigned, handleJobEvent("job unassigned"))
	mux.HandleFunc(taskname.SettlementGenerated, handleSettlementEvent("settlement generated"))
	mux.HandleFunc(taskname.SettlementPaid, handleSettlementEvent("settlement paid"))
}

func handleLicenseeEvent(event string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p LicenseeEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		zap.L().Info("notify: "+event,
			zap.String("licensee_id", p.LicenseeID),
			zap.String("company_name", p.CompanyName),
			zap.String("actor", p.Actor),
		)
		return nil
	}
}

func handleJobEvent(event string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p JobEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		zap.L().Info("notify: "+event,
			zap.String("job_id", p.JobID),
			zap.String("consultant_id", p.ConsultantID),
			zap.String("actor", p.Actor),
		)
		return nil
	}
}

func handleSettlementEvent(event string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p SettlementEventPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return err
		}
		zap.L().Info("notify: "+event,
			zap.String("settlement_id", p.SettlementID),
			zap.String("licensee_id", p.LicenseeID),
			zap.String("code", p.Code),
		)
		return nil
	}
}
