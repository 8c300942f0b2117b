package consts

const (
	COMP_QUEUE_SET            = "queue_set"
	COMP_TASK_CACHE           = "task_cache"
	COMP_PARTICIPANT_REGISTRY = "participant_registry"
	COMP_MEMBERSHIP           = "membership"
	COMP_TRANSPORT            = "cluster_transport"
	COMP_CAPABILITY           = "capability_endpoint"
	COMP_DISTRIBUTION         = "distribution_manager"
	COMP_AUDIT_SINK           = "audit_sink"
	COMP_OFFLOAD_STORE        = "offload_store"
	COMP_OFFLOAD_SWEEPER      = "offload_sweeper"
	COMP_CTRL_ADMIN           = "admin_ctrl"
)
