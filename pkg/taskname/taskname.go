package taskname

const (
	// Licensee lifecycle tasks
	LicenseeSuspended   = "licensee:suspended"
	LicenseeReactivated = "licensee:reactivated"
	LicenseeTerminated  = "licensee:terminated"

	// Allocation tasks
	JobAssigned   = "job:assigned"
	JobUnassigned = "job:unassigned"

	// Settlement tasks
	SettlementGenerated = "settlement:generated"
	SettlementPaid      = "settlement:paid"
)
