package gateway

import (
	"errors"

	"github.com/netsimworks/sdn-simulator/core"
	"github.com/netsimworks/sdn-simulator/internal/bridge"
)

// Operation names form the compatibility contract with the external
// control client; they mirror the bridge surface one to one.
const (
	OpGetFlowIDs            = "getFlowIds"
	OpGetFlowAvgLatency     = "getFlowAvgLatency"
	OpGetAllLinkIDs         = "getAllLinkIds"
	OpGetLinkAvgUtilization = "getLinkAvgUtilization"
	OpGetFlowPath           = "getFlowPath"
	OpGetFlowEndpoints      = "getFlowEndpoints"
	OpRerouteFlow           = "rerouteFlow"
	OpGetExpectedLatency    = "getExpectedLatency"
	OpGetRequestedBandwidth = "getRequestedBandwidth"
	OpGetTime               = "getTime"
)

// Response statuses. A polling client keys its degrade/retry behaviour
// off these rather than off transport errors.
const (
	StatusOK            = "ok"
	StatusNoData        = "no_data"
	StatusUnknownEntity = "unknown_entity"
	StatusBadRequest    = "bad_request"
	StatusSessionClosed = "session_closed"
	StatusError         = "error"
)

// NoDataValue is the scalar sentinel sent in place of a measurement when
// the status is not ok. Valid measurements are always >= 0, so clients
// may also gate on sign alone.
const NoDataValue = -1.0

// Request is one command from the remote client. Arguments are pointers
// so a missing field is distinguishable from a zero value.
type Request struct {
	// ID is echoed back verbatim so clients can correlate concurrent
	// in-flight requests on one connection.
	ID int64  `json:"id,omitempty"`
	Op string `json:"op"`

	FlowID        *int     `json:"flow_id,omitempty"`
	LinkIndex     *int     `json:"link_index,omitempty"`
	WindowSeconds *float64 `json:"window_seconds,omitempty"`
	SrcVM         *int     `json:"src_vm,omitempty"`
	DstVM         *int     `json:"dst_vm,omitempty"`
}

// Response carries one operation's result. Exactly the fields relevant
// to the operation are populated; scalar results use Value.
type Response struct {
	ID     int64  `json:"id,omitempty"`
	Op     string `json:"op"`
	Status string `json:"status"`

	Value     *float64 `json:"value,omitempty"`
	IDs       []int    `json:"ids,omitempty"`
	Path      []int    `json:"path,omitempty"`
	Endpoints []int    `json:"endpoints,omitempty"` // [source VM, destination VM]
	Rerouted  *bool    `json:"rerouted,omitempty"`

	Error string `json:"error,omitempty"`
}

// statusFromError maps bridge/engine errors onto wire statuses, the way
// an RPC server would map them onto status codes. Unknown-entity and
// no-data outcomes are statuses, not errors: a polling client must be
// able to degrade gracefully instead of crashing.
func statusFromError(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrNoSamples):
		return StatusNoData
	case errors.Is(err, core.ErrUnknownFlow),
		errors.Is(err, core.ErrUnknownLink),
		errors.Is(err, core.ErrUnknownVM),
		errors.Is(err, core.ErrUnknownNode):
		return StatusUnknownEntity
	case errors.Is(err, bridge.ErrBadWindow):
		return StatusBadRequest
	case errors.Is(err, bridge.ErrSessionClosed):
		return StatusSessionClosed
	default:
		return StatusError
	}
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
