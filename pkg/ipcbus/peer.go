// Package ipcbus implements the typed, length-prefixed IPC bus that
// connects the Supervisor, Capture, Export, Storage, and Query peers
// (§4.2 of the design).
package ipcbus

// Class identifies the role a peer plays on the bus.
type Class string

const (
	ClassSupervisor Class = "SUPERVISOR"
	ClassCapture    Class = "CAPTURE"
	ClassExport     Class = "EXPORT"
	ClassStorage    Class = "STORAGE"
	ClassQuery      Class = "QUERY"
)

// MaxPayload is the wire format's hard payload cap (§6).
const MaxPayload = 4096

// Type is the closed tagged-union of IPC message types. Bus.serve
// dispatches each received frame by looking its Type up in the handler
// map filled by Register.
type Type uint16

const (
	TypeHello Type = iota + 1
	TypeNewBatch
	TypeAckBatch
	TypeFlushSnapshot
	TypeStorageOpen
	TypeStorageOpenReply
	TypeStorageRegion
	TypeStorageRegionReply
	TypeStorageSeek
	TypeStorageSeekReply
	TypeStorageInform
	TypeStorageClose
	TypeStorageError
	TypeQuery
	TypeQueryReply
	TypeChildExited
)
