package consts

// RPC 方法名, 与远端节点的约定, 不可随意修改
const (
	METHOD_REGISTER_TASK      = "registerActionableTaskHandler"
	METHOD_UPDATE_TASK        = "updateActionableTaskHandler"
	METHOD_FULFILL_TASK       = "fulfillActionableTaskHandler"
	METHOD_RETRIEVE_PENDING   = "retrievePendingActionableTasksHandler"
	METHOD_EXECUTE_TASK       = "executeTaskHandler"
	METHOD_LOG_AUDIT_EVENT    = "logAuditEventHandler"
	METHOD_LOG_AUDIT_EVENTS   = "logMultipleAuditEventHandler"
	METHOD_PROBE_CAPABILITIES = "probeCapabilitiesHandler"
)

// envelope content-type tags
const (
	CT_ACTIONABLE_TASK   = "application/vnd.taskmesh.actionable-task"
	CT_PENDING_QUERY     = "application/vnd.taskmesh.pending-query"
	CT_TASK_LIST         = "application/vnd.taskmesh.actionable-task-list"
	CT_TASK_EXECUTION    = "application/vnd.taskmesh.task-execution"
	CT_AUDIT_EVENT       = "application/fhir+json;type=AuditEvent"
	CT_AUDIT_EVENT_BATCH = "application/fhir+json;type=Bundle"
	CT_AUDIT_ACK         = "application/vnd.taskmesh.audit-ack"
	CT_CAPABILITY_PROBE  = "application/vnd.taskmesh.capability-probe"
)

const (
	CODEC_JSON    = "json"
	CODEC_MSGPACK = "msgpack"
)
