package protocol

// Action identifies what an inbound request packet asks the gateway to do.
type Action byte

const (
	ActionSvcRequest Action = 0 // end-user call to a registered service

	ActionRpcRegister  Action = 10 // register/renew service candidates
	ActionRpcList      Action = 11 // list all candidates of the zone
	ActionRpcGet       Action = 12 // list candidates of one service key
	ActionRpcCall      Action = 13 // resolve a sibling service URL
	ActionRpcDestroy   Action = 14 // remove service candidates
	ActionRpcConfigGet Action = 15 // fetch a configuration blob
	ActionRpcConfigSet Action = 16 // store a configuration blob
)

// Code is the response status carried by every response packet.
type Code byte

const (
	CodeOk Code = 0

	CodeServerException  Code = 1
	CodeNotFound         Code = 2
	CodeForbidden        Code = 3
	CodeBadGateway       Code = 4
	CodeBadRequest       Code = 5
	CodeUnavailable      Code = 6
	CodeMethodNotAllowed Code = 7
	CodeInvalidBody      Code = 8

	CodeRpcInvalidZone      Code = 20
	CodeRpcOperationFailed  Code = 21
	CodeRpcRegLimit         Code = 22
	CodeRpcResponseError    Code = 23
	CodeRpcResponseTimedout Code = 24
	CodeRpcNetworkException Code = 25
	CodeRpcConfigNotFound   Code = 26

	CodeSvcInvalidZone           Code = 30
	CodeSvcNotFoundOrUnavailable Code = 31
)

// Description returns the short human-readable text for a code. This is the
// only detail about a failure that ever leaves the process.
func (c Code) Description() string {
	switch c {
	case CodeOk:
		return "ok"
	case CodeServerException:
		return "server exception"
	case CodeNotFound:
		return "not found"
	case CodeForbidden:
		return "forbidden"
	case CodeBadGateway:
		return "bad gateway"
	case CodeBadRequest:
		return "bad request"
	case CodeUnavailable:
		return "service unavailable"
	case CodeMethodNotAllowed:
		return "method not allowed"
	case CodeInvalidBody:
		return "invalid body"
	case CodeRpcInvalidZone:
		return "rpc: invalid zone"
	case CodeRpcOperationFailed:
		return "rpc: operation failed"
	case CodeRpcRegLimit:
		return "rpc: could not register more services"
	case CodeRpcResponseError:
		return "rpc: response error"
	case CodeRpcResponseTimedout:
		return "rpc: response timed out"
	case CodeRpcNetworkException:
		return "rpc: network exception"
	case CodeRpcConfigNotFound:
		return "rpc: configuration not found"
	case CodeSvcInvalidZone:
		return "service: invalid zone"
	case CodeSvcNotFoundOrUnavailable:
		return "service: not found or unavailable"
	default:
		return "unknown"
	}
}
