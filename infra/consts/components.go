package consts

const (
	COMPONENT_LOGGING      = "logging"
	COMPONENT_HTTP_SERVER  = "http_server"
	COMPONENT_REDIS        = "redis"
	COMPONENT_GRPC_SERVER  = "grpc_server"
	COMPONENT_GRPC_CLIENTS = "grpc_clients"
	COMPONENT_PROMETHEUS   = "prometheus"
	COMPONENT_TELEMETRY    = "telemetry"
	COMPONENT_GORM         = "gorm"
)
