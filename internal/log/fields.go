package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldTenant     = "tenant"
	FieldEntryID    = "entry_id"
	FieldCategoryID = "category_id"
	FieldYear       = "year"
	FieldMonth      = "month"
	FieldDebit      = "debit"
	FieldCredit     = "credit"
	FieldBalance    = "balance"
	FieldActor      = "actor"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentExport  = "export"
)
