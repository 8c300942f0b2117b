package consts

// TaskStatus 任务生命周期状态
type TaskStatus string

const (
	TaskRegistered TaskStatus = "REGISTERED" // 已登记, 等待执行
	TaskActive     TaskStatus = "ACTIVE"     // 执行中 (存在 job card)
	TaskFinished   TaskStatus = "FINISHED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether no further fulfilment is expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskCancelled
}

// StorageStatus 本地/中心存储状态
type StorageStatus string

const (
	StorageUnsaved StorageStatus = "UNSAVED"
	StorageSaved   StorageStatus = "SAVED"
	StorageFailed  StorageStatus = "FAILED"
)

// RegistrationState 参与者注册状态, local 与 central 两个字段各自独立设置
type RegistrationState string

const (
	RegUnregistered RegistrationState = "UNREGISTERED"
	RegLocalOnly    RegistrationState = "LOCAL_ONLY"
	RegPending      RegistrationState = "PENDING"    // 已提交中心, 未确认
	RegRegistered   RegistrationState = "REGISTERED" // 中心已确认
	RegFailed       RegistrationState = "FAILED"
)

// ComponentKind 参与者组件类型
type ComponentKind string

const (
	KindProcessingPlant ComponentKind = "PROCESSING_PLANT"
	KindRoutingEndpoint ComponentKind = "ROUTING_ENDPOINT"
	KindWorkshop        ComponentKind = "WORKSHOP"
	KindWUP             ComponentKind = "WUP" // work unit processor
)

type ComponentStatus string

const (
	ComponentStarting ComponentStatus = "STARTING"
	ComponentRunning  ComponentStatus = "RUNNING"
	ComponentStopped  ComponentStatus = "STOPPED"
	ComponentFailed   ComponentStatus = "FAILED"
)

type ParticipantStatus string

const (
	ParticipantIdle      ParticipantStatus = "IDLE"
	ParticipantActive    ParticipantStatus = "ACTIVE"
	ParticipantSuspended ParticipantStatus = "SUSPENDED"
)

type ControlStatus string

const (
	ControlEnabled  ControlStatus = "ENABLED"
	ControlDisabled ControlStatus = "DISABLED"
)
